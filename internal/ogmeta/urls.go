// Package ogmeta collects page URLs from search-performance exports and
// fetches their Open Graph title and image for the dashboard's page table.
package ogmeta

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Sources of page URLs.
const (
	SourceAuto      = "auto"
	SourceWeekly    = "weekly"
	SourceDashboard = "dashboard"
)

const weeklySuffix = "_weekly_all_data.csv"

// positiveMetrics are the columns that qualify a page: a URL is kept when
// any row has one of them above zero.
var positiveMetrics = []string{"clicks", "impressions", "ctr", "position"}

// NormalizeURL drops query and fragment, defaults the scheme to https and
// trims a trailing slash from non-root paths.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawQuery, u.Fragment, u.RawPath = "", "", ""
	return u.String()
}

// URLFromFilename rebuilds the page URL encoded in a weekly export file
// name, e.g. "https_www_example_com_about-us_weekly_all_data.csv" with base
// "https://www.example.com" becomes "https://www.example.com/about-us".
func URLFromFilename(name, baseURL string) string {
	stem := filepath.Base(name)
	stem = strings.TrimSuffix(stem, weeklySuffix)
	stem = strings.TrimSuffix(stem, ".csv")

	stem = strings.TrimPrefix(stem, sanitizePrefix(baseURL))
	path := strings.ReplaceAll(strings.TrimLeft(stem, "_"), "_", "/")
	return strings.TrimSuffix(baseURL, "/") + "/" + path
}

// sanitizePrefix renders baseURL the way export file names do: every run of
// characters other than letters, digits and '-' becomes one underscore.
func sanitizePrefix(baseURL string) string {
	var b strings.Builder
	under := false
	for _, r := range strings.TrimSuffix(baseURL, "/") {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' {
			b.WriteRune(r)
			under = false
			continue
		}
		if !under {
			b.WriteByte('_')
			under = true
		}
	}
	return b.String()
}

// metricValue parses a metric cell leniently: "12", "3.5%", "1,200". Bad
// cells count as zero.
func metricValue(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func rowQualifies(row map[string]any) bool {
	for _, key := range positiveMetrics {
		if metricValue(row[key]) > 0 {
			return true
		}
	}
	return false
}

// csvQualifies reports whether any row of a CSV export has a positive
// metric.
func csvQualifies(r io.Reader) (bool, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		row := make(map[string]any, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = v
			}
		}
		if rowQualifies(row) {
			return true, nil
		}
	}
}

// CollectWeekly returns the qualifying page URLs encoded in the CSV file
// names of dir. A missing directory yields no URLs. Unreadable files are
// reported through skip and ignored.
func CollectWeekly(dir, baseURL string, skip func(path string, err error)) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var urls []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		ok, err := qualifiesFile(path)
		if err != nil {
			if skip != nil {
				skip(path, err)
			}
			continue
		}
		if ok {
			urls = append(urls, URLFromFilename(name, baseURL))
		}
	}
	return Dedupe(urls), nil
}

func qualifiesFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return csvQualifies(f)
}

// CollectDashboard returns the qualifying page URLs of a dashboard JSON
// export: {"url_data": {"<url>": [{"clicks": ...}, ...]}}. A missing file
// yields no URLs.
func CollectDashboard(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc struct {
		URLData map[string][]map[string]any `json:"url_data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var urls []string
	for u, rows := range doc.URLData {
		for _, row := range rows {
			if rowQualifies(row) {
				urls = append(urls, u)
				break
			}
		}
	}
	sort.Strings(urls)
	return Dedupe(urls), nil
}

// Dedupe normalizes urls and drops repeats, keeping first occurrences.
func Dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := NormalizeURL(u)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
