package scrape

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractMeta reads the description and preview image from a page head.
// Relative image URLs are resolved against base when it is non-nil.
func ExtractMeta(page string, base *url.URL) *Meta {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var m Meta
	var ogDescription string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var name, content string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "name", "property":
					name = strings.ToLower(a.Val)
				case "content":
					content = strings.TrimSpace(a.Val)
				}
			}
			switch name {
			case "description":
				if m.Description == "" {
					m.Description = content
				}
			case "og:description":
				ogDescription = content
			case "og:image", "twitter:image":
				if m.Image == "" {
					m.Image = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if m.Description == "" {
		m.Description = ogDescription
	}
	if m.Image != "" && base != nil {
		if ref, err := url.Parse(m.Image); err == nil {
			m.Image = base.ResolveReference(ref).String()
		}
	}
	if m == (Meta{}) {
		return nil
	}
	return &m
}
