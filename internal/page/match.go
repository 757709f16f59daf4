package page

import "strings"

// FindMatch returns the first image of the document that plausibly shows url,
// or nil. Each candidate is tried against the rules in order: exact src,
// exact current source, equal absolute URLs, and suffix of one another.
// False positives are acceptable here; a missing badge is worse than a
// misplaced one.
func FindMatch(doc *Document, url string) *Image {
	if doc == nil || url == "" {
		return nil
	}
	for i := range doc.Images {
		img := &doc.Images[i]
		if img.Src == "" {
			continue
		}
		if matches(doc.BaseURL, img, url) {
			return img
		}
	}
	return nil
}

func matches(base string, img *Image, url string) bool {
	if img.Src == url {
		return true
	}
	if img.CurrentSrc == url {
		return true
	}
	// Resolution failures are a non-match, not an error
	if a, err := resolve(base, img.Src); err == nil {
		if b, err := resolve(base, url); err == nil && a == b {
			return true
		}
	}
	return strings.HasSuffix(img.Src, url) || strings.HasSuffix(url, img.Src)
}
