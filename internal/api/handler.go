package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ytget/yt-queue/internal/download"
	"github.com/ytget/yt-queue/internal/model"
)

const maxBodyBytes = 1 << 20

// Handler serves the control API on top of a download.Downloader
type Handler struct {
	queue   download.Downloader
	logger  *slog.Logger
	version string
}

// NewHandler creates the API handler
func NewHandler(queue download.Downloader, logger *slog.Logger, version string) *Handler {
	return &Handler{
		queue:   queue,
		logger:  logger.With(slog.String("component", "api")),
		version: version,
	}
}

// Routes builds the chi router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.logger))
	r.Use(Metrics())

	r.Get("/health/live", h.healthLive)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.getQueue)
			r.Post("/", h.addToQueue)
			r.Post("/playlist", h.addPlaylist)
			r.Get("/state", h.getQueueState)
			r.Delete("/finished", h.clearFinished)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getItem)
				r.Get("/progress", h.getProgress)
				r.Get("/events", h.streamProgress)
				r.Post("/pause", h.pause)
				r.Post("/resume", h.resume)
				r.Post("/cancel", h.cancel)
				r.Put("/position", h.reorder)
			})
		})

		r.Get("/settings/concurrency", h.getConcurrency)
		r.Put("/settings/concurrency", h.setConcurrency)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.getHistory)
			r.Get("/count", h.getHistoryCount)
			r.Delete("/", h.clearHistory)
			r.Delete("/{id}", h.removeFromHistory)
		})

		r.Get("/duplicates", h.checkDuplicate)
		r.Get("/formats", h.getFormats)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "Route not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, CodeValidation, "Method not allowed.")
	})

	return r
}

// fail writes err as a JSON error response
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	WriteError(w, status, code, message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", download.ErrValidation, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", download.ErrValidation, key)
	}
	return n, nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func (h *Handler) healthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	})
}

type addRequest struct {
	URL            string `json:"url"`
	FormatSelector string `json:"format_selector,omitempty"`
	OutputPath     string `json:"output_path,omitempty"`
	Title          string `json:"title,omitempty"`
}

func (req addRequest) options() download.AddOptions {
	return download.AddOptions{
		FormatSelector: req.FormatSelector,
		OutputPath:     req.OutputPath,
		Title:          req.Title,
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func (h *Handler) getQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.GetQueue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []*model.QueueItem{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.QueueItem]{Items: items, Total: len(items)})
}

func (h *Handler) addToQueue(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	item, err := h.queue.AddToQueue(r.Context(), req.URL, req.options())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := struct {
		Item      *model.QueueItem    `json:"item"`
		Duplicate *model.HistoryEntry `json:"duplicate,omitempty"`
	}{Item: item}
	if dup, err := h.queue.CheckDuplicate(r.Context(), req.URL); err == nil {
		resp.Duplicate = dup
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) addPlaylist(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.queue.AddPlaylist(r.Context(), req.URL, req.options())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) getQueueState(w http.ResponseWriter, r *http.Request) {
	state, err := h.queue.GetQueueState(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) clearFinished(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ClearFinished(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.queue.Progress(id)
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "No download in progress for "+id+".")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// streamProgress pushes progress snapshots as server-sent events until the
// job finishes or the client goes away.
func (h *Handler) streamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, unsubscribe := h.queue.SubscribeProgress(id)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}
			data, err := json.Marshal(p)
			if err != nil {
				h.logger.Error("failed to encode progress", slog.String("error", err.Error()))
				return
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type transitionResponse struct {
	ID      string `json:"id"`
	Changed bool   `json:"changed"`
}

func (h *Handler) transition(op func(*http.Request, string) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		changed, err := op(r, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, transitionResponse{ID: id, Changed: changed})
	}
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, id string) (bool, error) {
		return h.queue.PauseDownload(r.Context(), id)
	})(w, r)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, id string) (bool, error) {
		return h.queue.ResumeDownload(r.Context(), id)
	})(w, r)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(func(r *http.Request, id string) (bool, error) {
		return h.queue.CancelDownload(r.Context(), id)
	})(w, r)
}

type positionRequest struct {
	Position *int `json:"position"`
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Position == nil {
		WriteError(w, http.StatusBadRequest, CodeValidation, "position is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.queue.ReorderQueue(r.Context(), id, *req.Position); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "position": *req.Position})
}

type concurrencyBody struct {
	MaxConcurrent int `json:"max_concurrent"`
}

func (h *Handler) getConcurrency(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, concurrencyBody{MaxConcurrent: h.queue.MaxConcurrent()})
}

func (h *Handler) setConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyBody
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.queue.SetMaxConcurrent(req.MaxConcurrent); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, concurrencyBody{MaxConcurrent: h.queue.MaxConcurrent()})
}

type historyResponse struct {
	Items  []*model.HistoryEntry `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", download.DefaultHistoryLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q := model.HistoryQuery{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	entries, err := h.queue.GetHistory(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: entries, Limit: limit, Offset: offset})
}

func (h *Handler) getHistoryCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.GetHistoryCount(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ClearHistory(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *Handler) removeFromHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.queue.RemoveFromHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !removed {
		WriteError(w, http.StatusNotFound, CodeNotFound, "History entry "+id+" not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type duplicateResponse struct {
	Duplicate bool                `json:"duplicate"`
	Entry     *model.HistoryEntry `json:"entry,omitempty"`
}

func (h *Handler) checkDuplicate(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if strings.TrimSpace(u) == "" {
		WriteError(w, http.StatusBadRequest, CodeValidation, "url is required")
		return
	}

	entry, err := h.queue.CheckDuplicate(r.Context(), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, duplicateResponse{Duplicate: entry != nil, Entry: entry})
}

func (h *Handler) getFormats(w http.ResponseWriter, r *http.Request) {
	formats, err := h.queue.GetFormats(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": formats})
}
