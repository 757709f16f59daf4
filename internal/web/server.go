package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/cache"
	"github.com/raine/sherlockcombs/internal/overlay"
	"github.com/raine/sherlockcombs/internal/page"
	"github.com/raine/sherlockcombs/internal/pipeline"
	"github.com/raine/sherlockcombs/internal/shopping"
)

// PageFetcher downloads the HTML of a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) ([]byte, error)
}

// HealthChecker reports the state of the analysis backend.
type HealthChecker interface {
	Health(ctx context.Context) (*shopping.Health, error)
}

// Deps are the remote collaborators shared by every tab.
type Deps struct {
	Images   pipeline.ImageFetcher
	Analyzer pipeline.Analyzer
	Shopper  pipeline.Shopper
	Pages    PageFetcher
	Health   HealthChecker
}

type Options struct {
	Pipeline pipeline.Options
	Overlay  overlay.Options
}

// tab is one page session: its document, result cache and overlay.
type tab struct {
	id   string
	ctrl *overlay.Controller
	view *pageView
}

// Server hosts overlay sessions over HTTP. Each tab plays the role of a
// browser tab with the overlay injected.
type Server struct {
	deps Deps
	opts Options

	mu   sync.Mutex
	tabs map[string]*tab
}

func NewServer(deps Deps, opts Options) *Server {
	return &Server{
		deps: deps,
		opts: opts,
		tabs: make(map[string]*tab),
	}
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/tabs", func(r chi.Router) {
		r.Post("/", s.handleCreateTab)
		r.Route("/{tabID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteTab)
			r.Post("/show", s.handleShow)
			r.Get("/state", s.handleState)
			r.Get("/overlay", s.handleOverlay)
			r.Post("/overlay/pin", s.handlePin)
			r.Post("/overlay/close", s.handleClose)
			r.Get("/overlay/offers/{index}", s.handleOpenOffer)
			r.Post("/badges/{container}/click", s.handleBadgeClick)
		})
	})

	return r
}

func (s *Server) newTab(doc *page.Document) *tab {
	id := uuid.NewString()
	view := newPageView()
	p := pipeline.New(s.deps.Images, s.deps.Analyzer, s.deps.Shopper, cache.New(), s.opts.Pipeline)
	t := &tab{
		id:   id,
		ctrl: overlay.NewController(id, doc, p, view, s.opts.Overlay),
		view: view,
	}

	s.mu.Lock()
	s.tabs[id] = t
	s.mu.Unlock()

	log.Info().Str("tab", id).Str("baseUrl", doc.BaseURL).Int("images", len(doc.Images)).Msg("tab opened")
	return t
}

func (s *Server) tab(id string) (*tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	return t, ok
}

func (s *Server) closeTab(id string) bool {
	s.mu.Lock()
	t, ok := s.tabs[id]
	delete(s.tabs, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.ctrl.Stop()
	log.Info().Str("tab", id).Msg("tab closed")
	return true
}

// Shutdown stops all tab workers.
func (s *Server) Shutdown() {
	s.mu.Lock()
	tabs := make([]*tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		tabs = append(tabs, t)
	}
	s.tabs = make(map[string]*tab)
	s.mu.Unlock()

	for _, t := range tabs {
		t.ctrl.Stop()
	}
	log.Info().Int("count", len(tabs)).Msg("stopped all tabs")
}

// Run serves HTTP on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Shutdown()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
