package ogmeta

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
)

// Output is the file written for the dashboard: {"items": [...]}.
type Output struct {
	Items []Item `json:"items"`
}

// LoadExisting reads a previous output keyed by normalized URL. It accepts
// the {"items": [...]} layout, a bare array of items and a {"<url>":
// {"title", "image"}} object. A missing file yields an empty map.
func LoadExisting(path string) (map[string]Item, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Item{}, nil
	}
	if err != nil {
		return nil, err
	}

	var items []Item
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if list, ok := raw["items"]; ok {
			if err := json.Unmarshal(list, &items); err != nil {
				return nil, fmt.Errorf("parsing %s items: %w", path, err)
			}
			break
		}
		for u, meta := range raw {
			var it Item
			if err := json.Unmarshal(meta, &it); err != nil {
				continue
			}
			it.URL = u
			items = append(items, it)
		}
	}

	out := make(map[string]Item, len(items))
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		it.URL = NormalizeURL(it.URL)
		out[it.URL] = it
	}
	return out, nil
}

// Pending returns the urls that need fetching: all of them when overwrite
// is set, otherwise those missing from existing or known without title and
// image.
func Pending(urls []string, existing map[string]Item, overwrite bool) []string {
	if overwrite {
		return urls
	}
	var out []string
	for _, u := range urls {
		if it, ok := existing[u]; !ok || it.Empty() {
			out = append(out, u)
		}
	}
	return out
}

// Merge overlays fetched items on existing ones and returns them sorted by
// URL.
func Merge(existing map[string]Item, fetched []Item) []Item {
	all := make(map[string]Item, len(existing)+len(fetched))
	for u, it := range existing {
		all[u] = it
	}
	for _, it := range fetched {
		if it.URL != "" {
			all[it.URL] = it
		}
	}
	out := make([]Item, 0, len(all))
	for _, it := range all {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// WriteOutput writes items to path atomically, indented and without HTML
// escaping.
func WriteOutput(path string, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Output{Items: items}); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
