package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/cache"
	"github.com/raine/sherlockcombs/internal/normalize"
	"github.com/raine/sherlockcombs/internal/page"
	"github.com/raine/sherlockcombs/internal/pipeline"
	"github.com/raine/sherlockcombs/internal/shopping"
)

const (
	DefaultDismissAfter   = 30 * time.Second
	DefaultStatusInterval = 5 * time.Second
)

var (
	ErrNoPanel      = errors.New("no overlay panel is shown")
	ErrNoResults    = errors.New("overlay panel is not showing results")
	ErrOfferIndex   = errors.New("offer index out of range")
	ErrNoBadge      = errors.New("no badge in container")
	ErrStopped      = errors.New("overlay session stopped")
	ErrNoImageMatch = errors.New("image is not on the page")
)

// Status lines cycled while the image is being analyzed.
var analyzingMessages = []string{
	"Analyzing fashion elements...",
	"Identifying clothing items...",
	"Detecting colors and styles...",
	"Understanding the look...",
}

func loadingText(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageAnalyzing:
		return analyzingMessages[0]
	case pipeline.StageShopping:
		return "Finding the best deals..."
	}
	return "Loading..."
}

func failureText(stage pipeline.Stage, err error) string {
	switch {
	case errors.Is(err, pipeline.ErrEmptyAnalysis):
		return "No clothing detected in this image."
	case errors.Is(err, pipeline.ErrNoOffers):
		return "No offers found for this look."
	case stage == pipeline.StageShopping:
		return "Couldn't search for offers. Try again later."
	}
	return "Couldn't analyze this image. Try again later."
}

// Runner executes the analysis pipeline for one image.
type Runner interface {
	Run(ctx context.Context, imageURL string, listener pipeline.Listener) pipeline.Outcome
}

type Options struct {
	DismissAfter   time.Duration
	StatusInterval time.Duration
	Clock          Clock
}

// AckOutcome is how a show request ended.
type AckOutcome string

const (
	OutcomeDone       AckOutcome = "done"
	OutcomeFailed     AckOutcome = "failed"
	OutcomeSuperseded AckOutcome = "superseded"
)

// Ack acknowledges a show request to its caller.
type Ack struct {
	OK      bool       `json:"ok"`
	Cached  bool       `json:"cached"`
	Outcome AckOutcome `json:"outcome,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Snapshot is a copy of the controller's visible state.
type Snapshot struct {
	Panel  *PanelView `json:"panel"`
	Badges []Badge    `json:"badges"`
}

type panel struct {
	view        PanelView
	stageIndex  int
	dismiss     Timer
	statusTimer Timer
}

type badge struct {
	Badge
	match *page.Image
	entry cache.Entry
}

type activeRun struct {
	id     string
	url    string
	match  *page.Image
	cancel context.CancelFunc
}

// Controller owns the single overlay panel and the price badges of one
// session (a browser tab or a chat).
//
// Threading model:
//   - A dedicated worker goroutine processes messages sequentially and is
//     the only code touching panel, badges and run state
//   - Pipeline runs execute on the caller's goroutine and post their
//     emissions to the worker tagged with a run id; emissions from a run
//     that is no longer current are dropped
//   - Timer callbacks post messages tagged with the panel id; messages for
//     a panel that is gone are dropped
type Controller struct {
	id       string
	doc      *page.Document
	runner   Runner
	renderer Renderer
	clock    Clock

	dismissAfter   time.Duration
	statusInterval time.Duration

	inbox  chan *message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	exited chan struct{} // Closed when the worker returns

	// Worker-owned state
	panel  *panel
	badges map[string]*badge
	run    *activeRun
}

// NewController creates a controller and starts its worker.
func NewController(id string, doc *page.Document, runner Runner, renderer Renderer, opts Options) *Controller {
	if doc == nil {
		doc = page.Empty("")
	}
	if opts.DismissAfter <= 0 {
		opts.DismissAfter = DefaultDismissAfter
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:             id,
		doc:            doc,
		runner:         runner,
		renderer:       renderer,
		clock:          opts.Clock,
		dismissAfter:   opts.DismissAfter,
		statusInterval: opts.StatusInterval,
		inbox:          make(chan *message, 32),
		ctx:            ctx,
		cancel:         cancel,
		exited:         make(chan struct{}),
		badges:         make(map[string]*badge),
	}

	c.wg.Add(1)
	go c.runWorker()
	return c
}

// ID returns the session id the controller was created with.
func (c *Controller) ID() string {
	return c.id
}

// Document returns the page the controller matches images against.
func (c *Controller) Document() *page.Document {
	return c.doc
}

// Show runs the pipeline for an image URL and renders each step. It returns
// when the run has ended or was superseded by a newer Show.
func (c *Controller) Show(ctx context.Context, imageURL string) (ack Ack) {
	// Cancelled by the caller, by a newer run or by Stop
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := &message{Type: msgStartRun, URL: imageURL, cancel: cancel}
	c.sendSync(start)
	run := start.run
	if run == nil {
		return Ack{OK: false, Outcome: OutcomeFailed, Error: ErrStopped.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session", c.id).
				Str("url", imageURL).
				Interface("panic", r).
				Msg("recovered from panic in overlay pipeline")
			c.sendSync(&message{Type: msgRunFinished, RunID: run.id, Outcome: pipeline.Outcome{State: pipeline.StateFailed}})
			ack = Ack{OK: false, Outcome: OutcomeFailed, Error: fmt.Sprint(r)}
		}
	}()

	listener := &runListener{c: c, runID: run.id}
	outcome := c.runner.Run(runCtx, imageURL, listener)

	finished := &message{Type: msgRunFinished, RunID: run.id, Outcome: outcome}
	c.sendSync(finished)

	switch {
	case finished.Superseded:
		return Ack{OK: true, Outcome: OutcomeSuperseded}
	case outcome.State == pipeline.StateDone:
		return Ack{OK: true, Cached: outcome.Cached, Outcome: OutcomeDone}
	}
	ack = Ack{OK: true, Outcome: OutcomeFailed}
	if outcome.Err != nil {
		ack.Error = outcome.Err.Error()
	}
	return ack
}

// ShowLoading replaces the panel with a loading panel for the given stage.
func (c *Controller) ShowLoading(imageURL string, match *page.Image, stage pipeline.Stage) {
	c.sendSync(&message{Type: msgShowLoading, URL: imageURL, Match: match, Stage: stage})
}

// ShowResults replaces the panel with the offers for an image.
func (c *Controller) ShowResults(imageURL string, match *page.Image, results []shopping.Result, style string) {
	c.sendSync(&message{Type: msgShowResults, URL: imageURL, Match: match, Entry: cache.Entry{Results: results, Style: style}})
}

// ShowFailure replaces the panel with a failure notice for the given stage.
func (c *Controller) ShowFailure(imageURL string, match *page.Image, stage pipeline.Stage, err error) {
	c.sendSync(&message{Type: msgShowFailure, URL: imageURL, Match: match, Stage: stage, Err: err})
}

// PlaceBadge attaches a price badge to the image's container, replacing any
// badge already there. Clicking it shows entry again.
func (c *Controller) PlaceBadge(match *page.Image, priceText, imageURL string, entry cache.Entry) error {
	msg := &message{Type: msgPlaceBadge, Match: match, Text: priceText, URL: imageURL, Entry: entry, Err: ErrStopped}
	c.sendSync(msg)
	return msg.Err
}

// TogglePin flips the pinned flag of the current panel and returns the new
// value. A pinned panel is not auto-dismissed.
func (c *Controller) TogglePin() (bool, error) {
	msg := &message{Type: msgTogglePin, Err: ErrStopped}
	c.sendSync(msg)
	return msg.Pinned, msg.Err
}

// Close removes the current panel whether or not it is pinned.
func (c *Controller) Close() error {
	msg := &message{Type: msgClose, Err: ErrStopped}
	c.sendSync(msg)
	return msg.Err
}

// OpenOffer returns the product link of the i-th offer shown. The panel
// stays open.
func (c *Controller) OpenOffer(i int) (string, error) {
	msg := &message{Type: msgOpenOffer, Index: i, Err: ErrStopped}
	c.sendSync(msg)
	return msg.Text, msg.Err
}

// ClickBadge shows the known results of the badge in a container again,
// without fetching anything.
func (c *Controller) ClickBadge(container string) error {
	msg := &message{Type: msgClickBadge, Container: container, Err: ErrStopped}
	c.sendSync(msg)
	return msg.Err
}

// Snapshot returns a copy of the current panel and badges.
func (c *Controller) Snapshot() Snapshot {
	msg := &message{Type: msgSnapshot}
	c.sendSync(msg)
	return msg.Snapshot
}

// Stop cancels any running pipeline, stops the worker and its timers.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()

	// Worker has exited, state is ours
	if c.run != nil {
		c.run.cancel()
		c.run = nil
	}
	if c.panel != nil {
		c.stopTimers(c.panel)
	}
}

// runListener forwards pipeline emissions to the worker.
type runListener struct {
	c     *Controller
	runID string
}

func (l *runListener) StageStarted(stage pipeline.Stage) {
	l.c.sendSync(&message{Type: msgStageStarted, RunID: l.runID, Stage: stage})
}

func (l *runListener) Completed(entry cache.Entry, cached bool) {
	l.c.sendSync(&message{Type: msgCompleted, RunID: l.runID, Entry: entry, Cached: cached})
}

// --- Worker-side operations ---

func (c *Controller) newPanel(imageURL string, match *page.Image, kind PanelKind) *panel {
	c.removePanel()

	p := &panel{view: PanelView{
		ID:     uuid.NewString(),
		URL:    imageURL,
		Anchor: match,
		Kind:   kind,
	}}
	id := p.view.ID
	p.dismiss = c.clock.AfterFunc(c.dismissAfter, func() {
		c.send(&message{Type: msgDismiss, PanelID: id})
	})
	c.panel = p
	return p
}

func (c *Controller) removePanel() {
	if c.panel == nil {
		return
	}
	c.stopTimers(c.panel)
	c.renderer.RemoveOverlay(c.panel.view.ID)
	c.panel = nil
}

func (c *Controller) stopTimers(p *panel) {
	if p.dismiss != nil {
		p.dismiss.Stop()
		p.dismiss = nil
	}
	if p.statusTimer != nil {
		p.statusTimer.Stop()
		p.statusTimer = nil
	}
}

func (c *Controller) showLoading(imageURL string, match *page.Image, stage pipeline.Stage) {
	p := c.newPanel(imageURL, match, PanelLoading)
	p.view.Stage = stage
	p.view.Text = loadingText(stage)
	c.renderer.RenderLoading(p.view)

	if stage == pipeline.StageAnalyzing {
		c.scheduleStatus(p)
	}
}

func (c *Controller) scheduleStatus(p *panel) {
	id := p.view.ID
	p.statusTimer = c.clock.AfterFunc(c.statusInterval, func() {
		c.send(&message{Type: msgStatusTick, PanelID: id})
	})
}

func (c *Controller) advanceStatus(panelID string) {
	p := c.panel
	if p == nil || p.view.ID != panelID || p.view.Kind != PanelLoading || p.view.Stage != pipeline.StageAnalyzing {
		return
	}
	p.stageIndex = (p.stageIndex + 1) % len(analyzingMessages)
	p.view.Text = analyzingMessages[p.stageIndex]
	c.renderer.UpdateLoadingText(p.view.ID, p.view.Text)
	c.scheduleStatus(p)
}

func (c *Controller) showResults(imageURL string, match *page.Image, entry cache.Entry) {
	p := c.newPanel(imageURL, match, PanelResults)
	p.view.Style = entry.Style
	p.view.Offers = normalize.Offers(entry.Results)
	if len(p.view.Offers) > 0 {
		p.view.BestPrice = p.view.Offers[0].Price
	}
	c.renderer.RenderResults(p.view)
}

func (c *Controller) showFailure(imageURL string, match *page.Image, stage pipeline.Stage, err error) {
	p := c.newPanel(imageURL, match, PanelFailed)
	p.view.Stage = stage
	p.view.Text = failureText(stage, err)
	c.renderer.RenderFailure(p.view)
}

func (c *Controller) placeBadge(match *page.Image, priceText, imageURL string, entry cache.Entry) error {
	if match == nil {
		return ErrNoImageMatch
	}
	if old, ok := c.badges[match.Container]; ok {
		c.renderer.RemoveBadge(old.Container)
	}
	b := &badge{
		Badge: Badge{
			Container: match.Container,
			ImageID:   match.ID,
			URL:       imageURL,
			Price:     priceText,
		},
		match: match,
		entry: entry,
	}
	c.badges[match.Container] = b
	c.renderer.RenderBadge(b.Badge)
	return nil
}

func (c *Controller) togglePin() (bool, error) {
	if c.panel == nil {
		return false, ErrNoPanel
	}
	c.panel.view.Pinned = !c.panel.view.Pinned
	c.renderer.MarkPinned(c.panel.view.ID, c.panel.view.Pinned)
	return c.panel.view.Pinned, nil
}

func (c *Controller) dismiss(panelID string) {
	if c.panel == nil || c.panel.view.ID != panelID {
		return
	}
	c.panel.dismiss = nil
	if c.panel.view.Pinned {
		log.Debug().Str("session", c.id).Str("panel", panelID).Msg("panel pinned, not dismissing")
		return
	}
	log.Debug().Str("session", c.id).Str("panel", panelID).Msg("auto-dismissing panel")
	c.removePanel()
}

func (c *Controller) openOffer(i int) (string, error) {
	if c.panel == nil {
		return "", ErrNoPanel
	}
	if c.panel.view.Kind != PanelResults {
		return "", ErrNoResults
	}
	if i < 0 || i >= len(c.panel.view.Offers) {
		return "", ErrOfferIndex
	}
	return c.panel.view.Offers[i].ProductLink, nil
}

func (c *Controller) clickBadge(container string) error {
	b, ok := c.badges[container]
	if !ok {
		return ErrNoBadge
	}
	c.showResults(b.URL, b.match, b.entry)
	return nil
}

func (c *Controller) snapshot() Snapshot {
	var snap Snapshot
	if c.panel != nil {
		view := c.panel.view
		view.Offers = append([]normalize.Offer(nil), view.Offers...)
		snap.Panel = &view
	}
	snap.Badges = make([]Badge, 0, len(c.badges))
	// Document order keeps the output stable
	for _, img := range c.doc.Images {
		if b, ok := c.badges[img.Container]; ok && b.ImageID == img.ID {
			snap.Badges = append(snap.Badges, b.Badge)
		}
	}
	return snap
}

func (c *Controller) startRun(imageURL string, cancel context.CancelFunc) *activeRun {
	if c.run != nil {
		log.Info().
			Str("session", c.id).
			Str("url", c.run.url).
			Str("newUrl", imageURL).
			Msg("superseding running overlay pipeline")
		c.run.cancel()
	}

	run := &activeRun{
		id:     uuid.NewString(),
		url:    imageURL,
		match:  page.FindMatch(c.doc, imageURL),
		cancel: cancel,
	}
	c.run = run

	if run.match == nil {
		log.Debug().Str("session", c.id).Str("url", imageURL).Msg("image not found on page, using fixed anchor")
	}
	log.Info().Str("session", c.id).Str("url", imageURL).Str("run", run.id).Msg("show overlay")
	return run
}

// currentRun returns the active run if id still names it.
func (c *Controller) currentRun(id string) *activeRun {
	if c.run == nil || c.run.id != id {
		log.Debug().Str("session", c.id).Str("run", id).Msg("dropping emission from stale run")
		return nil
	}
	return c.run
}

func (c *Controller) finishRun(id string, outcome pipeline.Outcome) (superseded bool) {
	run := c.currentRun(id)
	if run == nil {
		return true
	}
	c.run = nil

	if outcome.State != pipeline.StateFailed {
		return false
	}
	if outcome.Err == nil || errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
		return false
	}
	c.showFailure(run.url, run.match, outcome.Failed, outcome.Err)
	return false
}

func (c *Controller) completed(id string, entry cache.Entry, cached bool) {
	run := c.currentRun(id)
	if run == nil {
		return
	}
	if !cached && run.match != nil {
		if price, ok := normalize.LowestPrice(entry.Results); ok {
			_ = c.placeBadge(run.match, price, run.url, entry)
		}
	}
	c.showResults(run.url, run.match, entry)
}
