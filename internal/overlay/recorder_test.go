package overlay

import (
	"fmt"
	"sync"
)

// recordingRenderer records every call and tracks which panels are
// attached, the way a page would.
type recordingRenderer struct {
	mu      sync.Mutex
	calls   []string
	live    map[string]PanelView
	maxLive int
	badges  map[string]Badge
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		live:   make(map[string]PanelView),
		badges: make(map[string]Badge),
	}
}

func (r *recordingRenderer) attach(kind string, p PanelView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, kind)
	r.live[p.ID] = p
	if len(r.live) > r.maxLive {
		r.maxLive = len(r.live)
	}
}

func (r *recordingRenderer) RenderLoading(p PanelView) {
	r.attach("loading:"+string(p.Stage), p)
}

func (r *recordingRenderer) RenderResults(p PanelView) {
	r.attach("results", p)
}

func (r *recordingRenderer) RenderFailure(p PanelView) {
	r.attach("failure:"+string(p.Stage), p)
}

func (r *recordingRenderer) UpdateLoadingText(panelID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "text:"+text)
	if p, ok := r.live[panelID]; ok {
		p.Text = text
		r.live[panelID] = p
	}
}

func (r *recordingRenderer) MarkPinned(panelID string, pinned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("pinned:%v", pinned))
}

func (r *recordingRenderer) RemoveOverlay(panelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "remove")
	delete(r.live, panelID)
}

func (r *recordingRenderer) RenderBadge(b Badge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "badge:"+b.Price)
	r.badges[b.Container] = b
}

func (r *recordingRenderer) RemoveBadge(container string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "unbadge:"+container)
	delete(r.badges, container)
}

func (r *recordingRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRenderer) count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recordingRenderer) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *recordingRenderer) MaxLive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxLive
}
