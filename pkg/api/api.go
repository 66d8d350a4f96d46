/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// go-osi API
//
// RESTful APIs to query replayed OSI conversations.
//
// Schemes: http
// Host: localhost:8010
// Version: 1.0.0
//
//	Produces:
//	- application/json
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"jinr.ru/greenlab/go-osi/pkg/config"
	"jinr.ru/greenlab/go-osi/pkg/dissect"
	"jinr.ru/greenlab/go-osi/pkg/log"
	"jinr.ru/greenlab/go-osi/pkg/metrics"
	"jinr.ru/greenlab/go-osi/pkg/store"
)

// Source answers the queries of the API, *store.Store is the usual one
type Source interface {
	Conversations() ([]*dissect.Summary, error)
	Conversation(key string) (*dissect.Summary, error)
	Frame(number uint64) ([]*dissect.Result, error)
	Pending() (*store.Pending, error)
}

var _ Source = &store.Store{}

// ReplayFunc replays a capture file on the server side and returns the number
// of OSI packets found
type ReplayFunc func(path string) (int, error)

type ReplayRequest struct {
	Path string `json:"path"`
}

type ReplayResponse struct {
	Path    string `json:"path"`
	Packets int    `json:"packets"`
}

// ErrOutsideCaptureDir returned for replay paths that leave the capture directory
type ErrOutsideCaptureDir struct {
	Path string
}

func (e ErrOutsideCaptureDir) Error() string {
	return fmt.Sprintf("Path %s is outside of the capture directory", e.Path)
}

type ApiServer struct {
	context.Context
	*config.Config
	*mux.Router
	// mu serialises replays against queries
	mu      sync.RWMutex
	source  Source
	replay  ReplayFunc
	limiter *rate.Limiter
}

func NewApiServer(ctx context.Context, cfg *config.Config, source Source, replay ReplayFunc) *ApiServer {
	log.Info("Initializing API server with address: %s port: %d", cfg.Api.Address, cfg.Api.Port)
	s := &ApiServer{
		Context: ctx,
		Config:  cfg,
		source:  source,
		replay:  replay,
		limiter: rate.NewLimiter(rate.Limit(cfg.Api.RateLimit), cfg.Api.Burst),
	}
	s.configureRouter()
	return s
}

// Handler wraps the router into recovery, access logging and rate limiting
func (s *ApiServer) Handler() http.Handler {
	var h http.Handler = s.Router
	h = s.limit(h)
	h = handlers.CombinedLoggingHandler(log.Writer(log.InfoLevel), h)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(log.Enabled(log.DebugLevel)))(h)
}

// Run serves until the context is cancelled
func (s *ApiServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Api.Address, s.Config.Api.Port)
	log.Info("Starting API server: address: %s", addr)
	httpServer := &http.Server{
		Handler:           s.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-s.Context.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *ApiServer) configureRouter() {
	s.Router = mux.NewRouter()
	s.Router.Use(s.measure)
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/conversations", s.handleConversations()).Methods("GET")
	subRouter.HandleFunc("/conversations/{key}", s.handleConversation()).Methods("GET")
	subRouter.HandleFunc("/frames/{num:[0-9]+}", s.handleFrame()).Methods("GET")
	subRouter.HandleFunc("/pending", s.handlePending()).Methods("GET")
	subRouter.HandleFunc("/replay", s.handleReplay()).Methods("POST")
	s.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *ApiServer) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// measure records request metrics labelled by the route template
func (s *ApiServer) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, path, rec.status, time.Since(started))
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var notFound store.ErrNotFound
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *ApiServer) handleConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		summaries, err := s.source.Conversations()
		if err != nil {
			writeError(w, err)
			return
		}
		if summaries == nil {
			summaries = []*dissect.Summary{}
		}
		writeJSON(w, summaries)
	}
}

func (s *ApiServer) handleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		log.Debug("Handling conversation request: key: %s", vars["key"])
		s.mu.RLock()
		defer s.mu.RUnlock()
		summary, err := s.source.Conversation(vars["key"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, summary)
	}
}

func (s *ApiServer) handleFrame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		number, err := strconv.ParseUint(vars["num"], 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		results, err := s.source.Frame(number)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, results)
	}
}

func (s *ApiServer) handlePending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		pending, err := s.source.Pending()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, pending)
	}
}

func (s *ApiServer) handleReplay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.replay == nil {
			http.Error(w, "replay is not enabled", http.StatusNotImplemented)
			return
		}
		req := &ReplayRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Path == "" {
			http.Error(w, "path is required", http.StatusBadRequest)
			return
		}
		path, err := s.capturePath(req.Path)
		if err != nil {
			log.Warning("Rejected replay request: %s", err)
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		packets, err := s.replay(path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, &ReplayResponse{Path: path, Packets: packets})
	}
}

// capturePath resolves a requested replay path against the capture directory.
// Relative paths are taken inside the directory, nothing may escape it.
func (s *ApiServer) capturePath(requested string) (string, error) {
	if s.Config.Capture == nil || s.Config.Capture.Dir == "" {
		return "", ErrOutsideCaptureDir{Path: requested}
	}
	dir, err := filepath.Abs(s.Config.Capture.Dir)
	if err != nil {
		return "", err
	}
	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideCaptureDir{Path: requested}
	}
	return path, nil
}
