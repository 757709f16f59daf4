package overlay

import (
	"github.com/raine/sherlockcombs/internal/normalize"
	"github.com/raine/sherlockcombs/internal/page"
	"github.com/raine/sherlockcombs/internal/pipeline"
)

// PanelKind is what a panel currently shows.
type PanelKind string

const (
	PanelLoading PanelKind = "loading"
	PanelResults PanelKind = "results"
	PanelFailed  PanelKind = "failed"
)

// PanelView is everything a surface needs to draw the panel.
type PanelView struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Anchor *page.Image `json:"anchor,omitempty"` // nil means the fixed on-screen position
	Kind   PanelKind   `json:"kind"`
	Pinned bool        `json:"pinned"`

	// Loading and failed panels
	Stage pipeline.Stage `json:"stage,omitempty"`
	Text  string         `json:"text,omitempty"`

	// Results panels
	Style     string            `json:"style,omitempty"`
	BestPrice string            `json:"bestPrice,omitempty"`
	Offers    []normalize.Offer `json:"offers,omitempty"`
}

// Badge is the price marker attached to an image's container.
type Badge struct {
	Container string `json:"container"`
	ImageID   string `json:"imageId"`
	URL       string `json:"url"`
	Price     string `json:"price"`
}

// Renderer draws overlay state onto a surface. Calls arrive from a single
// session worker, one at a time.
type Renderer interface {
	RenderLoading(panel PanelView)
	UpdateLoadingText(panelID, text string)
	RenderResults(panel PanelView)
	RenderFailure(panel PanelView)
	MarkPinned(panelID string, pinned bool)
	RemoveOverlay(panelID string)
	RenderBadge(badge Badge)
	RemoveBadge(container string)
}
