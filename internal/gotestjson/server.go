package gotestjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
)

// DefaultAddr is the default listen address of the ingestion server.
const DefaultAddr = ":9876"

// Server receives test2json events over HTTP.
type Server struct {
	recorder *Recorder
	server   *http.Server
	addr     string
	maxBody  int64
	logger   *slog.Logger
	listener net.Listener
	done     chan struct{}
}

// NewServer creates an ingestion server for recorder. An empty addr uses
// DefaultAddr; a non-positive maxBody leaves request bodies unbounded.
func NewServer(recorder *Recorder, addr string, maxBody int64) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		recorder: recorder,
		addr:     addr,
		maxBody:  maxBody,
		logger:   recorder.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/flush", s.handleFlush)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gotestjson: listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gotestjson: server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if s.done != nil {
		<-s.done
	}
	return err
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// handleEvents handles POST /events: a body of newline-delimited test2json
// events. Nothing is recorded unless the whole body decodes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := io.Reader(r.Body)
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}

	var events []Event
	dec := json.NewDecoder(body)
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		s.recorder.Record(context.WithoutCancel(r.Context()), ev)
	}
	w.WriteHeader(http.StatusOK)
}

// handleFlush handles POST /flush: it returns once buffered spans are
// exported.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.recorder.Flush(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
