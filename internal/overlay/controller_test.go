package overlay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raine/sherlockcombs/internal/cache"
	"github.com/raine/sherlockcombs/internal/page"
	"github.com/raine/sherlockcombs/internal/pipeline"
	"github.com/raine/sherlockcombs/internal/shopping"
)

const (
	imageA = "https://shop.example.com/img/a.jpg"
	imageB = "https://shop.example.com/img/b.jpg"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchImage(ctx context.Context, imageURL string) (*shopping.Image, error) {
	args := m.Called(ctx, imageURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shopping.Image), args.Error(1)
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, data []byte, mimeType string) (*shopping.Analysis, error) {
	args := m.Called(ctx, data, mimeType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shopping.Analysis), args.Error(1)
}

type mockShopper struct {
	mock.Mock
}

func (m *mockShopper) Search(ctx context.Context, query string) ([]shopping.Result, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]shopping.Result), args.Error(1)
}

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, imageURL string, l pipeline.Listener) pipeline.Outcome

func (f runnerFunc) Run(ctx context.Context, imageURL string, l pipeline.Listener) pipeline.Outcome {
	return f(ctx, imageURL, l)
}

func testDocument() *page.Document {
	return &page.Document{
		BaseURL: "https://shop.example.com/lookbook",
		Images: []page.Image{
			{ID: "img-0", Src: "/img/a.jpg", CurrentSrc: imageA, Container: "hero"},
			{ID: "img-1", Src: "/img/b.jpg", CurrentSrc: imageB, Container: "gallery"},
		},
	}
}

func testResults() []shopping.Result {
	return []shopping.Result{
		{Title: "Silk shirt", Price: "Â£45.00", ProductLink: "https://store.example.com/silk"},
		{Title: "Cotton shirt", Price: "£19.99", ProductLink: "https://store.example.com/cotton"},
		{Title: "Linen shirt", Price: "£30.00", ProductLink: "https://store.example.com/linen"},
	}
}

func redShirt() *shopping.Analysis {
	return &shopping.Analysis{
		Success: true,
		Items:   []shopping.Item{{Name: "tie"}, {Name: "shirt"}},
		Colors:  []shopping.Color{{Color: "red"}},
		Styles:  []shopping.Style{{Style: "smart casual"}},
	}
}

type fixture struct {
	ctrl     *Controller
	renderer *recordingRenderer
	clock    *FakeClock
	fetcher  *mockFetcher
	analyzer *mockAnalyzer
	shopper  *mockShopper
	pipe     *pipeline.Pipeline
}

func newFixture(t *testing.T, doc *page.Document) *fixture {
	f := &fixture{
		renderer: newRecordingRenderer(),
		clock:    NewFakeClock(),
		fetcher:  new(mockFetcher),
		analyzer: new(mockAnalyzer),
		shopper:  new(mockShopper),
	}
	f.pipe = pipeline.New(f.fetcher, f.analyzer, f.shopper, cache.New(), pipeline.Options{})
	f.ctrl = NewController("test", doc, f.pipe, f.renderer, Options{Clock: f.clock})
	t.Cleanup(f.ctrl.Stop)
	return f
}

func newDirectFixture(t *testing.T, runner Runner) (*Controller, *recordingRenderer, *FakeClock) {
	renderer := newRecordingRenderer()
	clock := NewFakeClock()
	if runner == nil {
		runner = runnerFunc(func(context.Context, string, pipeline.Listener) pipeline.Outcome {
			t.Fatal("pipeline must not run")
			return pipeline.Outcome{}
		})
	}
	ctrl := NewController("test", testDocument(), runner, renderer, Options{Clock: clock})
	t.Cleanup(ctrl.Stop)
	return ctrl, renderer, clock
}

func (f *fixture) expectSuccess(url string, data string) {
	f.fetcher.On("FetchImage", mock.Anything, url).
		Return(&shopping.Image{Data: []byte(data), MimeType: "image/jpeg"}, nil)
	f.analyzer.On("Analyze", mock.Anything, []byte(data), "image/jpeg").
		Return(redShirt(), nil)
	f.shopper.On("Search", mock.Anything, "Buy red shirt").
		Return(testResults(), nil)
}

func TestShow_RendersStagesThenResults(t *testing.T) {
	f := newFixture(t, testDocument())
	f.expectSuccess(imageA, "a")

	ack := f.ctrl.Show(context.Background(), imageA)

	assert.Equal(t, Ack{OK: true, Outcome: OutcomeDone}, ack)
	assert.Equal(t, []string{
		"loading:analyzing",
		"remove",
		"loading:shopping",
		"badge:£19.99",
		"remove",
		"results",
	}, f.renderer.Calls())
	assert.Equal(t, 1, f.renderer.MaxLive())

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, PanelResults, snap.Panel.Kind)
	assert.Equal(t, "smart casual", snap.Panel.Style)
	assert.Equal(t, "£19.99", snap.Panel.BestPrice)
	assert.Equal(t, "img-0", snap.Panel.Anchor.ID)
	require.Len(t, snap.Panel.Offers, 3)
	assert.Equal(t, "Cotton shirt", snap.Panel.Offers[0].Title)
	assert.True(t, snap.Panel.Offers[0].Best)
	assert.Equal(t, "£45.00", snap.Panel.Offers[2].Price)

	assert.Equal(t, []Badge{{Container: "hero", ImageID: "img-0", URL: imageA, Price: "£19.99"}}, snap.Badges)
}

func TestShow_CachedResultsSkipFetching(t *testing.T) {
	f := newFixture(t, testDocument())
	f.expectSuccess(imageA, "a")

	first := f.ctrl.Show(context.Background(), imageA)
	require.Equal(t, OutcomeDone, first.Outcome)

	second := f.ctrl.Show(context.Background(), imageA)

	assert.Equal(t, Ack{OK: true, Cached: true, Outcome: OutcomeDone}, second)
	f.fetcher.AssertNumberOfCalls(t, "FetchImage", 1)
	f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
	f.shopper.AssertNumberOfCalls(t, "Search", 1)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, PanelResults, snap.Panel.Kind)
	assert.Equal(t, 1, f.renderer.count("badge:£19.99"))
}

func TestShow_FailureShowsFailurePanel(t *testing.T) {
	f := newFixture(t, testDocument())
	f.fetcher.On("FetchImage", mock.Anything, imageA).
		Return(&shopping.Image{Data: []byte("a"), MimeType: "image/jpeg"}, nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &shopping.FetchError{Op: "analyze", Status: 500})

	ack := f.ctrl.Show(context.Background(), imageA)

	assert.True(t, ack.OK)
	assert.Equal(t, OutcomeFailed, ack.Outcome)
	assert.Contains(t, ack.Error, "500")

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, PanelFailed, snap.Panel.Kind)
	assert.Equal(t, pipeline.StageAnalyzing, snap.Panel.Stage)
	assert.Empty(t, snap.Badges)
	assert.Equal(t, 1, f.renderer.MaxLive())
}

func TestShow_NoOffersMessage(t *testing.T) {
	f := newFixture(t, testDocument())
	f.fetcher.On("FetchImage", mock.Anything, imageA).
		Return(&shopping.Image{Data: []byte("a"), MimeType: "image/jpeg"}, nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(redShirt(), nil)
	f.shopper.On("Search", mock.Anything, mock.Anything).
		Return([]shopping.Result{}, nil)

	ack := f.ctrl.Show(context.Background(), imageA)

	assert.Equal(t, OutcomeFailed, ack.Outcome)
	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, pipeline.StageShopping, snap.Panel.Stage)
	assert.Equal(t, "No offers found for this look.", snap.Panel.Text)
}

func TestShow_ImageNotOnPageUsesFixedAnchor(t *testing.T) {
	f := newFixture(t, page.Empty(""))
	f.expectSuccess(imageA, "a")

	ack := f.ctrl.Show(context.Background(), imageA)

	assert.Equal(t, OutcomeDone, ack.Outcome)
	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Nil(t, snap.Panel.Anchor)
	assert.Empty(t, snap.Badges)
	assert.NotContains(t, f.renderer.Calls(), "badge:£19.99")
}

func TestShow_StaleRunCannotClobberNewerPanel(t *testing.T) {
	f := newFixture(t, testDocument())
	f.expectSuccess(imageB, "b")

	entered := make(chan struct{})
	release := make(chan struct{})
	var staleCtx context.Context
	f.fetcher.On("FetchImage", mock.Anything, imageA).
		Return(&shopping.Image{Data: []byte("a"), MimeType: "image/jpeg"}, nil)
	f.analyzer.On("Analyze", mock.Anything, []byte("a"), "image/jpeg").
		Run(func(args mock.Arguments) {
			staleCtx = args.Get(0).(context.Context)
			close(entered)
			<-release
		}).
		Return(redShirt(), nil)

	acks := make(chan Ack, 1)
	go func() {
		acks <- f.ctrl.Show(context.Background(), imageA)
	}()
	<-entered

	ackB := f.ctrl.Show(context.Background(), imageB)
	require.Equal(t, OutcomeDone, ackB.Outcome)

	close(release)
	ackA := <-acks

	assert.Equal(t, Ack{OK: true, Outcome: OutcomeSuperseded}, ackA)
	assert.ErrorIs(t, staleCtx.Err(), context.Canceled)
	f.shopper.AssertNumberOfCalls(t, "Search", 1)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, imageB, snap.Panel.URL)
	assert.Equal(t, PanelResults, snap.Panel.Kind)
	assert.Equal(t, 1, f.renderer.Live())
	assert.Equal(t, 1, f.renderer.MaxLive())

	_, ok := f.pipe.Cache().Get(imageA)
	assert.False(t, ok)
}

func TestShow_PanicIsReported(t *testing.T) {
	ctrl, _, _ := newDirectFixture(t, runnerFunc(func(context.Context, string, pipeline.Listener) pipeline.Outcome {
		panic("boom")
	}))

	ack := ctrl.Show(context.Background(), imageA)

	assert.Equal(t, Ack{OK: false, Outcome: OutcomeFailed, Error: "boom"}, ack)

	// The worker keeps going
	ctrl.ShowLoading(imageA, nil, pipeline.StageShopping)
	assert.NotNil(t, ctrl.Snapshot().Panel)
}

func TestAtMostOnePanel(t *testing.T) {
	ctrl, renderer, _ := newDirectFixture(t, nil)
	doc := testDocument()

	ctrl.ShowLoading(imageA, &doc.Images[0], pipeline.StageAnalyzing)
	ctrl.ShowLoading(imageA, &doc.Images[0], pipeline.StageShopping)
	ctrl.ShowResults(imageA, &doc.Images[0], testResults(), "")
	ctrl.ShowFailure(imageB, nil, pipeline.StageShopping, errors.New("down"))
	ctrl.ShowResults(imageB, &doc.Images[1], testResults(), "boho")

	assert.Equal(t, 1, renderer.Live())
	assert.Equal(t, 1, renderer.MaxLive())
	assert.Equal(t, 4, renderer.count("remove"))
}

func TestAutoDismiss(t *testing.T) {
	ctrl, renderer, clock := newDirectFixture(t, nil)

	ctrl.ShowResults(imageA, nil, testResults(), "")
	clock.Advance(29 * time.Second)
	assert.NotNil(t, ctrl.Snapshot().Panel)

	clock.Advance(time.Second)
	assert.Nil(t, ctrl.Snapshot().Panel)
	assert.Equal(t, 0, renderer.Live())
}

func TestPinSurvivesDismissAndCloseStillRemoves(t *testing.T) {
	ctrl, renderer, clock := newDirectFixture(t, nil)

	ctrl.ShowResults(imageA, nil, testResults(), "")
	pinned, err := ctrl.TogglePin()
	require.NoError(t, err)
	assert.True(t, pinned)

	clock.Advance(DefaultDismissAfter)
	snap := ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.True(t, snap.Panel.Pinned)

	require.NoError(t, ctrl.Close())
	assert.Nil(t, ctrl.Snapshot().Panel)
	assert.Equal(t, 0, renderer.Live())
	assert.ErrorIs(t, ctrl.Close(), ErrNoPanel)
}

func TestPinResetsOnNewPanel(t *testing.T) {
	ctrl, renderer, clock := newDirectFixture(t, nil)

	ctrl.ShowResults(imageA, nil, testResults(), "")
	_, err := ctrl.TogglePin()
	require.NoError(t, err)
	pinned, err := ctrl.TogglePin()
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.Equal(t, []string{"results", "pinned:true", "pinned:false"}, renderer.Calls())

	_, _ = ctrl.TogglePin()
	ctrl.ShowResults(imageB, nil, testResults(), "")
	assert.False(t, ctrl.Snapshot().Panel.Pinned)

	// The replaced panel's pin does not protect the new one
	clock.Advance(DefaultDismissAfter)
	assert.Nil(t, ctrl.Snapshot().Panel)

	_, err = ctrl.TogglePin()
	assert.ErrorIs(t, err, ErrNoPanel)
}

func TestStatusMessagesCycleWhileAnalyzing(t *testing.T) {
	ctrl, renderer, clock := newDirectFixture(t, nil)

	ctrl.ShowLoading(imageA, nil, pipeline.StageAnalyzing)
	assert.Equal(t, "Analyzing fashion elements...", ctrl.Snapshot().Panel.Text)

	var seen []string
	for i := 0; i < 4; i++ {
		clock.Advance(DefaultStatusInterval)
		seen = append(seen, ctrl.Snapshot().Panel.Text)
	}
	assert.Equal(t, []string{
		"Identifying clothing items...",
		"Detecting colors and styles...",
		"Understanding the look...",
		"Analyzing fashion elements...",
	}, seen)

	// Shopping shows a single message
	ctrl.ShowLoading(imageA, nil, pipeline.StageShopping)
	updates := len(renderer.Calls())
	clock.Advance(DefaultStatusInterval)
	assert.Equal(t, "Finding the best deals...", ctrl.Snapshot().Panel.Text)
	assert.Len(t, renderer.Calls(), updates)
}

func TestTimersStopWithPanel(t *testing.T) {
	ctrl, renderer, clock := newDirectFixture(t, nil)

	ctrl.ShowLoading(imageA, nil, pipeline.StageAnalyzing)
	assert.Equal(t, 2, clock.Pending())

	require.NoError(t, ctrl.Close())
	assert.Equal(t, 0, clock.Pending())

	calls := len(renderer.Calls())
	clock.Advance(time.Minute)
	ctrl.Snapshot()
	assert.Len(t, renderer.Calls(), calls)
}

func TestLateTimerForRemovedPanelIsIgnored(t *testing.T) {
	renderer := newRecordingRenderer()
	clock := &leakyClock{FakeClock: NewFakeClock()}
	ctrl := NewController("test", nil, nil, renderer, Options{Clock: clock})
	t.Cleanup(ctrl.Stop)

	ctrl.ShowLoading(imageA, nil, pipeline.StageAnalyzing)
	ctrl.ShowLoading(imageB, nil, pipeline.StageAnalyzing)

	// Timers of the first panel still fire
	clock.Advance(DefaultStatusInterval)
	snap := ctrl.Snapshot()
	assert.Equal(t, imageB, snap.Panel.URL)
	assert.Equal(t, 1, renderer.count("text:Identifying clothing items..."))

	clock.Advance(DefaultDismissAfter)
	assert.Nil(t, ctrl.Snapshot().Panel)
	assert.Equal(t, 2, renderer.count("remove"))
}

// leakyClock returns timers that ignore Stop.
type leakyClock struct {
	*FakeClock
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (c *leakyClock) AfterFunc(d time.Duration, f func()) Timer {
	c.FakeClock.AfterFunc(d, f)
	return leakyTimer{}
}

func TestBadgeReplacedAndClickReshowsResults(t *testing.T) {
	ctrl, renderer, _ := newDirectFixture(t, nil)
	img := &testDocument().Images[0]

	require.NoError(t, ctrl.PlaceBadge(img, "£30.00", imageA, cache.Entry{Results: testResults()[2:]}))
	require.NoError(t, ctrl.PlaceBadge(img, "£19.99", imageA, cache.Entry{Results: testResults(), Style: "minimal"}))

	snap := ctrl.Snapshot()
	require.Len(t, snap.Badges, 1)
	assert.Equal(t, "£19.99", snap.Badges[0].Price)
	assert.Equal(t, 1, renderer.count("unbadge:hero"))
	assert.Nil(t, snap.Panel)

	require.NoError(t, ctrl.ClickBadge("hero"))
	snap = ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, "minimal", snap.Panel.Style)
	assert.Equal(t, "£19.99", snap.Panel.BestPrice)
	assert.Equal(t, "img-0", snap.Panel.Anchor.ID)

	assert.ErrorIs(t, ctrl.ClickBadge("gallery"), ErrNoBadge)
	assert.ErrorIs(t, ctrl.PlaceBadge(nil, "£1", imageA, cache.Entry{}), ErrNoImageMatch)
}

func TestBadgeForSiblingImageReplacesBadgeInSameContainer(t *testing.T) {
	ctrl, renderer, _ := newDirectFixture(t, nil)
	first := &page.Image{ID: "img-0", CurrentSrc: imageA, Container: "parent-0"}
	second := &page.Image{ID: "img-1", CurrentSrc: imageB, Container: "parent-0"}

	require.NoError(t, ctrl.PlaceBadge(first, "£30.00", imageA, cache.Entry{Results: testResults()[2:]}))
	require.NoError(t, ctrl.PlaceBadge(second, "£19.99", imageB, cache.Entry{Results: testResults()}))

	assert.Equal(t, 1, renderer.count("unbadge:parent-0"))
	require.NoError(t, ctrl.ClickBadge("parent-0"))

	snap := ctrl.Snapshot()
	require.NotNil(t, snap.Panel)
	assert.Equal(t, imageB, snap.Panel.URL)
	assert.Equal(t, "img-1", snap.Panel.Anchor.ID)
}

func TestOpenOffer(t *testing.T) {
	ctrl, _, _ := newDirectFixture(t, nil)

	_, err := ctrl.OpenOffer(0)
	assert.ErrorIs(t, err, ErrNoPanel)

	ctrl.ShowLoading(imageA, nil, pipeline.StageShopping)
	_, err = ctrl.OpenOffer(0)
	assert.ErrorIs(t, err, ErrNoResults)

	ctrl.ShowResults(imageA, nil, testResults(), "")
	link, err := ctrl.OpenOffer(0)
	require.NoError(t, err)
	assert.Equal(t, "https://store.example.com/cotton", link)

	// Opening an offer keeps the panel
	assert.NotNil(t, ctrl.Snapshot().Panel)

	for _, i := range []int{-1, 3} {
		_, err = ctrl.OpenOffer(i)
		assert.ErrorIs(t, err, ErrOfferIndex, fmt.Sprint(i))
	}
}

func TestStop(t *testing.T) {
	renderer := newRecordingRenderer()
	clock := NewFakeClock()
	ctrl := NewController("test", nil, nil, renderer, Options{Clock: clock})

	ctrl.ShowLoading(imageA, nil, pipeline.StageAnalyzing)
	ctrl.Stop()

	assert.Equal(t, 0, clock.Pending())

	ack := ctrl.Show(context.Background(), imageA)
	assert.False(t, ack.OK)
	assert.Equal(t, ErrStopped.Error(), ack.Error)

	_, err := ctrl.TogglePin()
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, ctrl.Close(), ErrStopped)
	assert.Nil(t, ctrl.Snapshot().Panel)
}
