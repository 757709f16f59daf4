package web

import (
	"sort"
	"sync"

	"github.com/raine/sherlockcombs/internal/overlay"
)

// pageView is the rendered state of a tab: what a browser would show after
// applying every render call. It is written by the tab's overlay worker and
// read by HTTP handlers.
type pageView struct {
	mu      sync.Mutex
	panel   *overlay.PanelView
	badges  map[string]overlay.Badge
	version int
}

func newPageView() *pageView {
	return &pageView{badges: make(map[string]overlay.Badge)}
}

func (v *pageView) setPanel(p overlay.PanelView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panel = &p
	v.version++
}

func (v *pageView) RenderLoading(p overlay.PanelView) { v.setPanel(p) }
func (v *pageView) RenderResults(p overlay.PanelView) { v.setPanel(p) }
func (v *pageView) RenderFailure(p overlay.PanelView) { v.setPanel(p) }

func (v *pageView) UpdateLoadingText(panelID, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.panel != nil && v.panel.ID == panelID {
		v.panel.Text = text
		v.version++
	}
}

func (v *pageView) MarkPinned(panelID string, pinned bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.panel != nil && v.panel.ID == panelID {
		v.panel.Pinned = pinned
		v.version++
	}
}

func (v *pageView) RemoveOverlay(panelID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.panel != nil && v.panel.ID == panelID {
		v.panel = nil
		v.version++
	}
}

func (v *pageView) RenderBadge(b overlay.Badge) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.badges[b.Container] = b
	v.version++
}

func (v *pageView) RemoveBadge(container string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.badges, container)
	v.version++
}

type viewState struct {
	Panel   *overlay.PanelView
	Badges  []overlay.Badge
	Version int
}

func (v *pageView) state() viewState {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := viewState{Version: v.version}
	if v.panel != nil {
		p := *v.panel
		s.Panel = &p
	}
	for _, b := range v.badges {
		s.Badges = append(s.Badges, b)
	}
	sort.Slice(s.Badges, func(i, j int) bool { return s.Badges[i].Container < s.Badges[j].Container })
	return s
}
