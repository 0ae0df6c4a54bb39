package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dokzlo13/ledsync/internal/ledger"
	"github.com/dokzlo13/ledsync/internal/matrix"
	"github.com/dokzlo13/ledsync/internal/pattern"
	"github.com/dokzlo13/ledsync/internal/state"
	"github.com/dokzlo13/ledsync/internal/transport"
)

var errBadRequest = errors.New("bad request")

// maxJournalLimit caps one journal page.
const maxJournalLimit = 1000

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.link.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.link.Stats())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.link.Reconnect(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"action": "reconnect"})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, errors.New("journal disabled"))
		return
	}

	f, err := journalFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	entries, err := s.journal.Find(f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func journalFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{Limit: ledger.DefaultLimit}

	if v := q.Get("type"); v != "" {
		t, err := ledger.ParseEventType(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		f.Type = t
	}
	if v := q.Get("since"); v != "" {
		since, err := ledger.ParseSince(v, time.Now())
		if err != nil {
			return f, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxJournalLimit {
			return f, fmt.Errorf("%w: limit must be 1-%d", errBadRequest, maxJournalLimit)
		}
		f.Limit = n
	}
	return f, nil
}

type toggleRequest struct {
	Index *int `json:"index"`
	Row   *int `json:"row"`
	Col   *int `json:"col"`
}

func (req toggleRequest) target() (matrix.Index, error) {
	switch {
	case req.Index != nil:
		return matrix.Index(*req.Index), nil
	case req.Row != nil && req.Col != nil:
		return matrix.ToIndex(*req.Row, *req.Col)
	default:
		return 0, fmt.Errorf("%w: need index or row and col", errBadRequest)
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	i, err := req.target()
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.Toggle(r.Context(), i); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"action": "toggle", "index": int(i)})
}

type brightnessRequest struct {
	Brightness *int `json:"brightness"`
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req brightnessRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Brightness == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: missing brightness", errBadRequest))
		return
	}
	if err := s.store.SetBrightness(r.Context(), *req.Brightness); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"action": "brightness", "brightness": *req.Brightness})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearAll(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"action": "clear"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Pattern " + time.Now().Format("2006-01-02 15:04")
	}
	p := s.store.ExportPattern(name, time.Now())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".json"))
	if err := p.Encode(w); err != nil {
		s.fail(w, err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.store.ImportPattern(raw)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  p.Name,
		"draft": s.store.Snapshot().Draft,
	})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	s.store.DiscardDraft()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PushDraft(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"action": "push"})
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var verr *pattern.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Error(), Path: verr.Path})
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, transport.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, state.ErrNoDraft):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, matrix.ErrInvalidIndex),
		errors.Is(err, matrix.ErrInvalidCoordinate),
		errors.Is(err, state.ErrInvalidBrightness),
		errors.Is(err, errBadRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, transport.ErrTransport):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
