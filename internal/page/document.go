package page

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Image is one rendered image element of a page.
type Image struct {
	ID         string `json:"id"`         // Stable id within the document ("img-0", "img-1", ...)
	Src        string `json:"src"`        // Configured src attribute, as written
	CurrentSrc string `json:"currentSrc"` // Source the page actually resolved to (srcset pick or absolute src)
	Alt        string `json:"alt,omitempty"`
	Container  string `json:"container"` // Key of the parent element, used to place badges
}

// Document is the set of images currently rendered on a page.
type Document struct {
	BaseURL string
	Images  []Image
}

// Empty returns a document with no images, used by surfaces that have no page.
func Empty(baseURL string) *Document {
	return &Document{BaseURL: baseURL}
}

// Image returns the image with the given id, or nil.
func (d *Document) Image(id string) *Image {
	for i := range d.Images {
		if d.Images[i].ID == id {
			return &d.Images[i]
		}
	}
	return nil
}

// ImageInContainer returns the first image placed in the given container, or nil.
func (d *Document) ImageInContainer(container string) *Image {
	for i := range d.Images {
		if d.Images[i].Container == container {
			return &d.Images[i]
		}
	}
	return nil
}

// ParseHTML reads an HTML page and collects its img elements. A <base href>
// in the page overrides baseURL.
func ParseHTML(r io.Reader, baseURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc := &Document{BaseURL: baseURL}
	if href := findBaseHref(root); href != "" {
		if resolved, err := resolve(baseURL, href); err == nil {
			doc.BaseURL = resolved
		}
	}

	containers := map[*html.Node]string{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			if img, ok := doc.newImage(n); ok {
				img.Container = containerKey(n, containers)
				doc.Images = append(doc.Images, img)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return doc, nil
}

func (d *Document) newImage(n *html.Node) (Image, bool) {
	src := attr(n, "src")
	if src == "" {
		return Image{}, false
	}

	id := fmt.Sprintf("img-%d", len(d.Images))
	img := Image{
		ID:  id,
		Src: src,
		Alt: attr(n, "alt"),
	}

	current := src
	if srcset := attr(n, "srcset"); srcset != "" {
		if first := firstSrcsetCandidate(srcset); first != "" {
			current = first
		}
	}
	if resolved, err := resolve(d.BaseURL, current); err == nil {
		current = resolved
	}
	img.CurrentSrc = current

	return img, true
}

// containerKey identifies the image's parent element: its id, or else a key
// given to that parent node in document order. Images sharing a parent share
// a container.
func containerKey(n *html.Node, seen map[*html.Node]string) string {
	p := n.Parent
	if p == nil {
		p = n
	}
	if id := attr(p, "id"); p.Type == html.ElementNode && id != "" {
		return id
	}
	if key, ok := seen[p]; ok {
		return key
	}
	key := fmt.Sprintf("parent-%d", len(seen))
	seen[p] = key
	return key
}

func firstSrcsetCandidate(srcset string) string {
	first := strings.TrimSpace(strings.Split(srcset, ",")[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func findBaseHref(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "base" {
		return attr(n, "href")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := findBaseHref(c); href != "" {
			return href
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// resolve returns ref as an absolute URL against base.
func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	abs := b.ResolveReference(r)
	if !abs.IsAbs() {
		return "", fmt.Errorf("cannot resolve %q against %q", ref, base)
	}
	return abs.String(), nil
}
