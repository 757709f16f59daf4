package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/overlay"
	"github.com/raine/sherlockcombs/internal/page"
)

const maxRequestBody = 5 << 20

type createTabRequest struct {
	PageURL string `json:"pageUrl"`
	HTML    string `json:"html"`
	BaseURL string `json:"baseUrl"`
}

type createTabResponse struct {
	ID     string       `json:"id"`
	Images []page.Image `json:"images"`
}

type showRequest struct {
	ImageURL string `json:"imageUrl"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// tabFromRequest resolves the {tabID} parameter, writing a 404 when unknown.
func (s *Server) tabFromRequest(w http.ResponseWriter, r *http.Request) (*tab, bool) {
	t, ok := s.tab(chi.URLParam(r, "tabID"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("tab not found"))
	}
	return t, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	backend, err := s.deps.Health.Health(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("analysis backend health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "backend": backend})
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request) {
	var req createTabRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var body []byte
	baseURL := req.BaseURL
	switch {
	case req.HTML != "":
		body = []byte(req.HTML)
	case req.PageURL != "":
		if s.deps.Pages == nil {
			writeError(w, http.StatusBadRequest, errors.New("page fetching is not available"))
			return
		}
		fetched, err := s.deps.Pages.FetchPage(r.Context(), req.PageURL)
		if err != nil {
			log.Warn().Err(err).Str("url", req.PageURL).Msg("failed to fetch page")
			writeError(w, http.StatusBadGateway, err)
			return
		}
		body = fetched
		if baseURL == "" {
			baseURL = req.PageURL
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("pageUrl or html is required"))
		return
	}

	doc, err := page.ParseHTML(bytes.NewReader(body), baseURL)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	t := s.newTab(doc)
	images := doc.Images
	if images == nil {
		images = []page.Image{}
	}
	writeJSON(w, http.StatusCreated, createTabResponse{ID: t.id, Images: images})
}

func (s *Server) handleDeleteTab(w http.ResponseWriter, r *http.Request) {
	if !s.closeTab(chi.URLParam(r, "tabID")) {
		writeError(w, http.StatusNotFound, errors.New("tab not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}

	var req showRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("imageUrl is required"))
		return
	}

	ack := t.ctrl.Show(r.Context(), req.ImageURL)
	status := http.StatusOK
	if !ack.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ack)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.ctrl.Snapshot())
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := overlayTemplate.Execute(&buf, overlayPage{TabID: t.id, viewState: t.view.state()}); err != nil {
		log.Error().Err(err).Str("tab", t.id).Msg("failed to render overlay")
		http.Error(w, "Error rendering overlay", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}
	pinned, err := t.ctrl.TogglePin()
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pinned": pinned})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}
	if err := t.ctrl.Close(); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenOffer(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid offer index"))
		return
	}
	link, err := t.ctrl.OpenOffer(index)
	if err != nil {
		writeControlError(w, err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

func (s *Server) handleBadgeClick(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tabFromRequest(w, r)
	if !ok {
		return
	}
	container := chi.URLParam(r, "container")
	if unescaped, err := url.PathUnescape(container); err == nil {
		container = unescaped
	}
	if err := t.ctrl.ClickBadge(container); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, overlay.ErrNoPanel), errors.Is(err, overlay.ErrNoResults):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, overlay.ErrOfferIndex), errors.Is(err, overlay.ErrNoBadge):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
