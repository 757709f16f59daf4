package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raine/sherlockcombs/internal/cache"
	"github.com/raine/sherlockcombs/internal/shopping"
	"github.com/rs/zerolog/log"
)

// DefaultMaxOffers caps how many offers are kept per image.
const DefaultMaxOffers = 10

// DefaultExcludedItems are accessories skipped when choosing what to shop
// for, matched case-insensitively as substrings of the item name.
var DefaultExcludedItems = []string{"watch", "tie", "belt", "sunglasses"}

var (
	// ErrEmptyAnalysis means the analysis came back without items or colors.
	ErrEmptyAnalysis = errors.New("analysis returned no items or colors")
	// ErrNoOffers means the shopping search found nothing.
	ErrNoOffers = errors.New("shopping search returned no results")
)

// Stage is a phase of the remote pipeline shown to the user while loading.
type Stage string

const (
	StageAnalyzing Stage = "analyzing"
	StageShopping  Stage = "shopping"
)

// State is a state of one pipeline run.
type State int

const (
	StateStart State = iota
	StateAnalyzing
	StateShopping
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAnalyzing:
		return "analyzing"
	case StateShopping:
		return "shopping"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ImageFetcher downloads the source image.
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (*shopping.Image, error)
}

// Analyzer detects clothing items, colors and styles in an image.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte, mimeType string) (*shopping.Analysis, error)
}

// Shopper finds offers for a free text query.
type Shopper interface {
	Search(ctx context.Context, query string) ([]shopping.Result, error)
}

// Listener receives the render requests a run emits.
type Listener interface {
	// StageStarted is called when a remote stage begins.
	StageStarted(stage Stage)
	// Completed is called once with the results to show.
	Completed(entry cache.Entry, cached bool)
}

type Options struct {
	MaxOffers     int
	ExcludedItems []string
}

// Pipeline turns an image URL into shopping results: image fetch, analysis,
// query derivation, shopping search, caching.
type Pipeline struct {
	fetcher   ImageFetcher
	analyzer  Analyzer
	shopper   Shopper
	cache     *cache.ResultCache
	maxOffers int
	excluded  []string
}

func New(fetcher ImageFetcher, analyzer Analyzer, shopper Shopper, resultCache *cache.ResultCache, opts Options) *Pipeline {
	p := &Pipeline{
		fetcher:   fetcher,
		analyzer:  analyzer,
		shopper:   shopper,
		cache:     resultCache,
		maxOffers: opts.MaxOffers,
		excluded:  opts.ExcludedItems,
	}
	if p.maxOffers <= 0 {
		p.maxOffers = DefaultMaxOffers
	}
	if p.excluded == nil {
		p.excluded = DefaultExcludedItems
	}
	if p.cache == nil {
		p.cache = cache.New()
	}
	return p
}

// Cache returns the result cache the pipeline reads and writes.
func (p *Pipeline) Cache() *cache.ResultCache {
	return p.cache
}

// Outcome is the end state of one run.
type Outcome struct {
	State  State
	Path   []State // Every state the run went through, in order
	Failed Stage   // Stage that failed, when State is StateFailed
	Entry  cache.Entry
	Cached bool
	Query  string
	Err    error
}

type run struct {
	url      string
	listener Listener
	outcome  Outcome
}

func (r *run) enter(s State) {
	r.outcome.State = s
	r.outcome.Path = append(r.outcome.Path, s)
	if s != StateStart {
		log.Debug().Str("url", r.url).Stringer("state", s).Msg("pipeline state")
	}
}

func (r *run) fail(stage Stage, err error) Outcome {
	r.enter(StateFailed)
	r.outcome.Failed = stage
	r.outcome.Err = err
	return r.outcome
}

// Run executes the pipeline for one image URL. Failures end the run; they
// are reported in the outcome and nothing further is emitted.
func (p *Pipeline) Run(ctx context.Context, imageURL string, listener Listener) Outcome {
	r := &run{url: imageURL, listener: listener}
	r.enter(StateStart)

	if entry, ok := p.cache.Get(imageURL); ok {
		log.Debug().Str("url", imageURL).Msg("result cache hit")
		r.enter(StateDone)
		r.outcome.Entry = entry
		r.outcome.Cached = true
		listener.Completed(entry, true)
		return r.outcome
	}

	r.enter(StateAnalyzing)
	listener.StageStarted(StageAnalyzing)

	analysis, err := p.analyze(ctx, imageURL)
	if err != nil {
		log.Error().Err(err).Str("url", imageURL).Msg("image analysis failed")
		return r.fail(StageAnalyzing, err)
	}

	query, err := BuildQuery(analysis, p.excluded)
	if err != nil {
		log.Error().Err(err).Str("url", imageURL).Msg("cannot derive shopping query")
		return r.fail(StageAnalyzing, err)
	}
	r.outcome.Query = query
	if err := ctx.Err(); err != nil {
		return r.fail(StageAnalyzing, err)
	}

	r.enter(StateShopping)
	listener.StageStarted(StageShopping)

	results, err := p.shopper.Search(ctx, query)
	if err == nil && len(results) == 0 {
		err = ErrNoOffers
	}
	if err != nil {
		log.Error().Err(err).Str("url", imageURL).Str("query", query).Msg("shopping search failed")
		return r.fail(StageShopping, err)
	}

	if len(results) > p.maxOffers {
		results = results[:p.maxOffers]
	}
	entry := cache.Entry{Results: results, Style: analysis.FirstStyle()}
	// Cached even when the run was cancelled meanwhile; only the render is dropped
	p.cache.Put(imageURL, entry)

	if err := ctx.Err(); err != nil {
		return r.fail(StageShopping, err)
	}

	log.Info().
		Str("url", imageURL).
		Str("query", query).
		Int("offers", len(results)).
		Str("style", entry.Style).
		Msg("shopping results ready")

	r.enter(StateDone)
	r.outcome.Entry = entry
	listener.Completed(entry, false)
	return r.outcome
}

func (p *Pipeline) analyze(ctx context.Context, imageURL string) (*shopping.Analysis, error) {
	img, err := p.fetcher.FetchImage(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	analysis, err := p.analyzer.Analyze(ctx, img.Data, img.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze image: %w", err)
	}
	return analysis, nil
}

// BuildQuery derives the shopping query from an analysis: "Buy <color> <item>"
// with the top color and the first item that is not excluded. When every
// item is excluded the first one is used anyway.
func BuildQuery(analysis *shopping.Analysis, excluded []string) (string, error) {
	if analysis == nil || len(analysis.Items) == 0 || len(analysis.Colors) == 0 {
		return "", ErrEmptyAnalysis
	}

	item := analysis.Items[0].Name
	for _, candidate := range analysis.Items {
		if !isExcluded(candidate.Name, excluded) {
			item = candidate.Name
			break
		}
	}

	return fmt.Sprintf("Buy %s %s", analysis.Colors[0].Color, item), nil
}

func isExcluded(name string, excluded []string) bool {
	name = strings.ToLower(name)
	for _, term := range excluded {
		if term != "" && strings.Contains(name, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
