package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/benaskins/keyitems/internal/history"
	"github.com/benaskins/keyitems/internal/keychain"
)

const (
	maxValueBytes   = 1 << 20
	eventBufferSize = 64
	historySize     = 256
)

// Entry is the JSON form of a stored entry. Value is base64 on the wire.
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// KeyList is the response body of GET /v1/keys.
type KeyList struct {
	Service string   `json:"service"`
	Keys    []string `json:"keys"`
}

// Event is a change as recorded in the server's recent history.
type Event struct {
	Time time.Time `json:"time"`
	keychain.Change
}

// Server serves the keyitems REST API over a Unix socket.
type Server struct {
	store    keychain.KeyValueStore
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
	ctx      context.Context
	recent   *history.Ring[Event]
	closing  chan struct{} // closed when Shutdown starts
	closed   sync.Once
}

// NewServer creates an API server backed by store. rps limits requests per
// second across all clients; zero disables limiting.
func NewServer(ctx context.Context, store keychain.KeyValueStore, rps float64) *Server {
	s := &Server{
		store:   store,
		logger:  slog.With("component", "api"),
		ctx:     ctx,
		recent:  history.New[Event](historySize),
		closing: make(chan struct{}),
	}

	unsubscribe := store.Subscribe(func(c keychain.Change) {
		s.recent.Add(Event{Time: time.Now().UTC(), Change: c})
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if rps > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps)))))
	}

	r.Get("/v1/health", s.health)
	r.Get("/v1/events", s.events)
	r.Get("/v1/changes", s.changes)
	r.Get("/v1/keys", s.listKeys)
	r.Post("/v1/keys", s.createEntry)
	r.Delete("/v1/keys", s.removeAll)
	r.Get("/v1/keys/*", s.getEntry)
	r.Put("/v1/keys/*", s.setEntry)
	r.Patch("/v1/keys/*", s.saveEntry)
	r.Delete("/v1/keys/*", s.deleteEntry)

	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server.RegisterOnShutdown(func() {
		s.closed.Do(func() { close(s.closing) })
	})
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.Keys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, KeyList{Service: s.store.Service(), Keys: keys.Sorted()})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	val, found, err := s.store.Get(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("no entry for key %q", key))
		return
	}
	writeJSON(w, http.StatusOK, Entry{Key: key, Value: val})
}

func (s *Server) setEntry(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxValueBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("value exceeds %d bytes", maxValueBytes))
		return
	}
	if err := s.store.Set(key, body); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := "stored"
	if len(body) == 0 {
		status = "deleted"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var e Entry
	if !decodeEntry(w, r, &e) {
		return
	}
	s.save(w, "", e, http.StatusCreated)
}

func (s *Server) saveEntry(w http.ResponseWriter, r *http.Request) {
	oldKey, ok := keyParam(w, r)
	if !ok {
		return
	}
	var e Entry
	if !decodeEntry(w, r, &e) {
		return
	}
	s.save(w, oldKey, e, http.StatusOK)
}

func (s *Server) save(w http.ResponseWriter, oldKey string, e Entry, status int) {
	err := keychain.SaveEntry(s.store, oldKey, e.Key, e.Value)
	switch {
	case errors.Is(err, keychain.ErrKeyRequired), errors.Is(err, keychain.ErrValueRequired):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, keychain.ErrKeyExists):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, status, map[string]string{"status": "saved", "key": strings.TrimSpace(e.Key)})
	}
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(key); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) removeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveAll(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// changes returns recent key-set changes, oldest first. ?limit=N returns only
// the last N.
func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.recent.Last(limit))
}

// events streams key-set changes as Server-Sent Events until the client
// disconnects or the server shuts down.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch := make(chan keychain.Change, eventBufferSize)
	cancel := s.store.Subscribe(func(c keychain.Change) {
		select {
		case ch <- c:
		default:
			s.logger.Warn("event subscriber too slow, dropping change", "key", c.Key, "kind", c.Kind)
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-s.closing:
			return
		case c := <-ch:
			data, err := json.Marshal(c)
			if err != nil {
				s.logger.Error("encoding change", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// keyParam extracts the entry key from the wildcard route segment. Keys may
// contain slashes. chi routes on the escaped path when one was sent, so the
// segment is only unescaped in that case.
func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		var err error
		if key, err = url.PathUnescape(key); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return "", false
		}
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, keychain.ErrKeyRequired)
		return "", false
	}
	return key, true
}

func decodeEntry(w http.ResponseWriter, r *http.Request, e *Entry) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 2*maxValueBytes))
	if err := dec.Decode(e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding entry: %w", err))
		return false
	}
	return true
}

// requestLogger logs each request with its status and duration.
func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Debug(
				fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				"response_code", m.Code,
				"duration", m.Duration,
				"bytes_sent", m.Written,
			)
		})
	}
}

func rateLimit(limiter *rate.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
