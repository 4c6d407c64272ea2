package abtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"strings"
)

// Handler returns an http.Handler serving all experiment endpoints.
// The caller must strip the URL prefix before passing requests.
//
//	chi:      r.Mount("/abtest", http.StripPrefix("/abtest", svc.Handler()))
//	ServeMux: svc.RegisterMux(mux, "/abtest")
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		switch {
		case r.Method == http.MethodPost && path == "/track":
			s.handleTrack(w, r)
		case r.Method == http.MethodPost && path == "/experiments":
			s.handleCreate(w, r)
		case r.Method == http.MethodGet && path == "/experiments":
			s.handleList(w, r)
		default:
			rest, ok := strings.CutPrefix(path, "/experiments/")
			if !ok {
				http.NotFound(w, r)
				return
			}
			if id, found := strings.CutSuffix(rest, "/evaluate"); found && r.Method == http.MethodPost && !strings.Contains(id, "/") {
				s.handleEvaluate(w, r, id)
				return
			}
			if id, found := strings.CutSuffix(rest, "/select"); found && r.Method == http.MethodGet && !strings.Contains(id, "/") {
				s.handleSelect(w, r, id)
				return
			}
			if r.Method == http.MethodGet && !strings.Contains(rest, "/") {
				s.handleGet(w, r, rest)
				return
			}
			http.NotFound(w, r)
		}
	})
}

// RegisterMux registers experiment routes directly on a standard ServeMux
// with explicit method+path patterns (Go 1.22+).
func (s *Service) RegisterMux(mux *http.ServeMux, basePath string) {
	bp := strings.TrimRight(basePath, "/")
	mux.HandleFunc("POST "+bp+"/track", s.handleTrack)
	mux.HandleFunc("POST "+bp+"/experiments", s.handleCreate)
	mux.HandleFunc("GET "+bp+"/experiments", s.handleList)
	mux.HandleFunc("GET "+bp+"/experiments/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleGet(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST "+bp+"/experiments/{id}/evaluate", func(w http.ResponseWriter, r *http.Request) {
		s.handleEvaluate(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET "+bp+"/experiments/{id}/select", func(w http.ResponseWriter, r *http.Request) {
		s.handleSelect(w, r, r.PathValue("id"))
	})
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	e, err := s.Create(r.Context(), &in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	list, err := s.List(r.Context(), status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*Experiment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	e, err := s.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request, id string) {
	ev, err := s.Evaluate(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Service) handleSelect(w http.ResponseWriter, r *http.Request, id string) {
	v, err := s.Select(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Service) handleTrack(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16*1024)

	var req struct {
		TestID             string  `json:"test_id"`
		VariantID          string  `json:"variant_id"`
		Event              string  `json:"event"`
		SubjectKey         string  `json:"subject_key"`
		HoldoutVariantID   string  `json:"holdout_variant_id"`
		MinHoldoutSharePct float64 `json:"min_holdout_share_pct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SubjectKey == "" {
		req.SubjectKey = subjectKeyFromRequest(r)
	}

	res, err := s.Track(r.Context(), &TrackInput{
		TestID:             req.TestID,
		VariantID:          req.VariantID,
		Event:              EventKind(req.Event),
		SubjectKey:         req.SubjectKey,
		HoldoutVariantID:   req.HoldoutVariantID,
		MinHoldoutSharePct: req.MinHoldoutSharePct,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Conflicts
// carry both variant ids so the caller can reconcile.
func (s *Service) writeServiceError(w http.ResponseWriter, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":               "assignment conflict",
			"expected_variant_id": conflict.Expected,
			"received_variant_id": conflict.Received,
			"assignment":          conflict.Assignment,
		})
	case errors.Is(err, ErrInvalidInput):
		jsonErr(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		jsonErr(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("abtest handler", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
	}
}

// subjectKeyFromRequest derives a stable subject key from network-level
// signals for callers that do not supply one.
func subjectKeyFromRequest(r *http.Request) string {
	addr := r.Header.Get("X-Forwarded-For")
	if addr != "" {
		addr = strings.TrimSpace(strings.SplitN(addr, ",", 2)[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		addr = host
	} else {
		addr = r.RemoteAddr
	}
	h := fnv.New64a()
	io.WriteString(h, addr)
	io.WriteString(h, "|")
	io.WriteString(h, r.UserAgent())
	return fmt.Sprintf("%016x", h.Sum64())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
