package matchcache

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/joelkehle/tmsearch/internal/tmsearch"
)

const maxBodyBytes = 1 << 20

type Server struct {
	store    Store
	tokenset map[string]struct{}
}

// NewServer serves the match cache API over store. When tokens is empty
// any non-empty bearer token is accepted.
func NewServer(store Store, tokens []string) http.Handler {
	tokenset := map[string]struct{}{}
	for _, raw := range tokens {
		v := strings.TrimSpace(raw)
		if v != "" {
			tokenset[v] = struct{}{}
		}
	}
	s := &Server{store: store, tokenset: tokenset}
	mux := http.NewServeMux()
	mux.HandleFunc("/match", s.handleStore)
	mux.HandleFunc("/match/", s.handleGet)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var te *tmsearch.Error
	if errors.As(err, &te) {
		switch te.Code {
		case tmsearch.CodeValidation:
			status = http.StatusBadRequest
		case tmsearch.CodeUnauthorized:
			status = http.StatusUnauthorized
		case tmsearch.CodeUnavailable, tmsearch.CodeTimeout:
			status = http.StatusServiceUnavailable
		}
	}
	message := err.Error()
	if te != nil {
		message = te.Message
	}
	if status == http.StatusInternalServerError {
		log.Printf("match-cache request_failed err=%q", err.Error())
	}
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      tmsearch.ErrorCode(err),
			"message":   message,
			"transient": te != nil && te.Transient,
		},
		"message": message,
	})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		writeError(w, tmsearch.NewUnauthorizedError("Unauthorized", nil))
		return false
	}
	if len(s.tokenset) > 0 {
		if _, allowed := s.tokenset[token]; !allowed {
			writeError(w, tmsearch.NewUnauthorizedError("Unauthorized", nil))
			return false
		}
	}
	return true
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if !s.authorize(w, r) {
		return
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, tmsearch.NewValidationError("unreadable body"))
		return
	}
	var rec tmsearch.RawRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		writeError(w, tmsearch.NewValidationError("invalid json body"))
		return
	}
	stored, err := s.store.Put(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("match-cache stored term=%q source=%s", stored.Term, stored.Source)
	writeJSON(w, http.StatusOK, stored)
}

// handleGet serves /match/{term} and /match/{term}/{source}. Segments are
// split before unescaping so a term may contain an encoded slash.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if !s.authorize(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/match/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) > 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	term, err := url.PathUnescape(parts[0])
	if err != nil {
		writeError(w, tmsearch.NewValidationError("invalid term"))
		return
	}
	if len(parts) == 1 {
		out, err := s.store.Get(r.Context(), term)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	source, err := url.PathUnescape(parts[1])
	if err != nil || source == "" {
		writeError(w, tmsearch.NewValidationError("invalid source"))
		return
	}
	rec, ok, err := s.store.GetBySource(r.Context(), term, tmsearch.Source(source))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if !s.authorize(w, r) {
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, tmsearch.CacheStatus{Message: "Database unreachable: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tmsearch.CacheStatus{Connected: true, Message: "Connected to match cache."})
}
