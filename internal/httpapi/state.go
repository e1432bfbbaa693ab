package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
	"vadash/internal/storage/sqlite"
)

const (
	maxBodyBytes    = 64 << 10
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// handleSetCriteria replaces the shared criteria with the body's filter
// parameters. An empty body clears every criterion.
func (h *Handler) handleSetCriteria(w http.ResponseWriter, r *http.Request) {
	defer h.observe("criteria", time.Now())
	v, err := decodeParams(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	q, err := ParseQuery(v, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.controller.SetCriteria(q.Criteria)
	h.respondState(w, r, "criteria")
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	defer h.observe("reset", time.Now())
	h.controller.Reset()
	h.respondState(w, r, "reset")
}

func (h *Handler) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	defer h.observe("level", time.Now())
	v, err := decodeParams(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	level := v.Get("level")
	if level == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "level is required")
		return
	}
	if err := h.controller.SetLevel(domain.Level(level)); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.respondState(w, r, "level")
}

func (h *Handler) handleSetView(w http.ResponseWriter, r *http.Request) {
	defer h.observe("view", time.Now())
	v, err := decodeParams(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	q, err := ParseQuery(v, h.now())
	if err == nil {
		err = h.controller.SetView(q.View)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.respondState(w, r, "view")
}

func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, change string) {
	snap := h.controller.Snapshot()
	h.logger.Infof("api state changed change=%s request_id=%s seq=%d active=%d",
		change, GetRequestID(r.Context()), snap.Seq, snap.ActiveVAs)
	writeJSON(w, http.StatusOK, snap)
}

// handleStream sends the shared snapshot as server-sent events: the current
// one first, then one per publish. A slow client skips to the latest.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	updates := make(chan dashboard.Snapshot, 1)
	unsubscribe := h.controller.Subscribe(func(snap dashboard.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	requestID := GetRequestID(r.Context())
	h.logger.Infof("api stream opened request_id=%s", requestID)
	defer h.logger.Infof("api stream closed request_id=%s", requestID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			data, err := json.Marshal(snap)
			if err != nil {
				h.logger.Errorf("api stream encode failed request_id=%s seq=%d err=%v", requestID, snap.Seq, err)
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Seq, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type runView struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Records    int       `json:"records"`
	Uncoded    int       `json:"uncoded"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

func newRunView(run sqlite.FetchRun) runView {
	return runView{
		ID:         run.ID,
		Source:     run.Source,
		Status:     run.Status,
		Records:    run.Records,
		Uncoded:    run.Uncoded,
		Error:      run.Error,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	}
}

// handleRuns lists recent fetch runs, newest first.
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	defer h.observe("runs", time.Now())
	if h.db == nil {
		writeError(w, http.StatusNotFound, "not_found", "fetch history is not stored")
		return
	}
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunLimit {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("limit must be between 1 and %d", maxRunLimit))
			return
		}
		limit = n
	}
	runs, err := sqlite.RecentFetchRuns(h.db, limit)
	if err != nil {
		h.logger.Errorf("api runs failed request_id=%s err=%v", GetRequestID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// decodeParams reads a JSON object of dashboard parameters. Numbers and
// booleans are accepted in their string form; null leaves a key unset.
func decodeParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	var raw map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	v := url.Values{}
	for key, value := range raw {
		switch x := value.(type) {
		case nil:
		case string:
			v.Set(key, x)
		case float64:
			v.Set(key, strconv.FormatFloat(x, 'f', -1, 64))
		case bool:
			v.Set(key, strconv.FormatBool(x))
		default:
			return nil, fmt.Errorf("%s must be a string or number", key)
		}
	}
	return v, nil
}
