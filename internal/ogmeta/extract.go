package ogmeta

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

var (
	titleProps = map[string]bool{"og:title": true, "twitter:title": true}
	imageProps = map[string]bool{
		"og:image":            true,
		"og:image:secure_url": true,
		"twitter:image":       true,
		"twitter:image:src":   true,
	}
)

// Extract returns the page title and preview image of an HTML document.
// Open Graph and Twitter card tags win; <title> is the title fallback.
// Relative image URLs are resolved against pageURL.
func Extract(body []byte, pageURL string) (title, image string) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var docTitle string
	inTitle := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; return what was found.
			if title == "" {
				title = docTitle
			}
			return title, image

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "title":
				inTitle = tt == html.StartTagToken
			case "meta":
				if !hasAttr {
					continue
				}
				prop, content := metaAttrs(z)
				if content == "" {
					continue
				}
				if title == "" && titleProps[prop] {
					title = strings.TrimSpace(content)
				}
				if image == "" && imageProps[prop] {
					image = resolve(pageURL, strings.TrimSpace(content))
				}
			case "body":
				// Meta tags live in <head>; keep scanning only for a title.
				if title != "" && image != "" {
					return title, image
				}
			}

		case html.TextToken:
			if inTitle && docTitle == "" {
				docTitle = strings.Join(strings.Fields(string(z.Text())), " ")
			}

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "title" {
				inTitle = false
			}
		}
	}
}

// metaAttrs reads a meta tag's key (property or name) and value (content or
// value). Attribute values arrive unescaped from the tokenizer.
func metaAttrs(z *html.Tokenizer) (prop, content string) {
	var name, value string
	for {
		key, val, more := z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "property":
			prop = strings.ToLower(strings.TrimSpace(string(val)))
		case "name":
			name = strings.ToLower(strings.TrimSpace(string(val)))
		case "content":
			content = string(val)
		case "value":
			value = string(val)
		}
		if !more {
			break
		}
	}
	if prop == "" {
		prop = name
	}
	if content == "" {
		content = value
	}
	return prop, content
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
