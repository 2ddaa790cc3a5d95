package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/lineage/internal/api"
	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/metrics"
)

const (
	defaultAddr            = "127.0.0.1:7878"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	maxLaunchBody = 64 << 10
	treesPrefix   = "/api/v1/trees/"
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing supervisor controls.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if isNil(cfg.Controller) {
		if cfg.Controller != nil {
			return nil, fmt.Errorf("controller is required, got nil %T", cfg.Controller)
		}
		return nil, fmt.Errorf("controller is required")
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

func isNil(ctrl api.Controller) bool {
	if ctrl == nil {
		return true
	}
	v := reflect.ValueOf(ctrl)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// Run starts serving until the provided context is cancelled.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	go func() {
		var err error
		if s.listener != nil {
			err = s.srv.Serve(s.listener)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	err := <-errCh
	close(stop)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/trees", s.handleTrees)
	mux.HandleFunc(treesPrefix, s.handleTree)
	mux.HandleFunc("/api/v1/launch", s.handleLaunch)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) handleTrees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Trees(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleTree serves /api/v1/trees/{id}, /api/v1/trees/{id}/refresh and
// /api/v1/trees/{id}/kill.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, treesPrefix), "/")
	id, action, _ := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(action, "/") {
		s.writeErrorWithDetails(w, fmt.Errorf("%w: invalid tree path", api.ErrUnknownTree), map[string]any{"tree": rest})
		return
	}
	details := map[string]any{"tree": id}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, http.MethodGet)
			return
		}
		result, err := s.ctrl.Tree(r.Context(), id)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	case "refresh":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		result, err := s.ctrl.Refresh(r.Context(), id)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	case "kill":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		result, err := s.ctrl.Kill(r.Context(), id)
		if err != nil {
			s.writeErrorWithDetails(w, err, details)
			return
		}
		payload := map[string]any{"kill": result}
		if tree, treeErr := s.ctrl.Tree(r.Context(), id); treeErr == nil {
			payload["tree"] = tree
		}
		s.writeJSON(w, http.StatusOK, payload)
	default:
		s.writeErrorWithDetails(w, fmt.Errorf("%w: unknown action %q", api.ErrUnknownTree, action), details)
	}
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.LaunchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxLaunchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode launch request: %v", launch.ErrInvalidArgument, err))
		return
	}
	result, err := s.ctrl.Launch(r.Context(), req)
	if err != nil {
		s.writeErrorWithDetails(w, err, map[string]any{"kind": req.Kind})
		return
	}
	status := http.StatusCreated
	if result != nil && result.Existing {
		status = http.StatusOK
	}
	s.writeJSON(w, status, map[string]any{"launch": result})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", method)
	s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Code:    "method_not_allowed",
		Message: fmt.Sprintf("method %s not allowed", method),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorWithDetails(w, err, nil)
}

func (s *Server) writeErrorWithDetails(w http.ResponseWriter, err error, extra map[string]any) {
	status, code := classifyError(err)
	details := map[string]any{
		"timestamp": time.Now().UTC(),
	}
	for k, v := range extra {
		details[k] = v
	}
	body := errorBody{
		Code:    code,
		Message: err.Error(),
		Details: details,
	}
	s.writeJSON(w, status, body)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, api.ErrUnknownTree):
		return http.StatusNotFound, "unknown_tree"
	case errors.Is(err, api.ErrTreeNotResolved):
		return http.StatusConflict, "tree_not_resolved"
	case errors.Is(err, api.ErrUnsupportedKind):
		return http.StatusBadRequest, "unsupported_kind"
	case errors.Is(err, launch.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, launch.ErrFileMissing):
		return http.StatusNotFound, "file_missing"
	case errors.Is(err, launch.ErrNotInitialized), errors.Is(err, api.ErrControllerClosed):
		return http.StatusServiceUnavailable, "not_initialized"
	case errors.Is(err, stdcontext.DeadlineExceeded):
		return http.StatusGatewayTimeout, "launch_timeout"
	case errors.Is(err, launch.ErrLaunchFailed):
		return http.StatusBadGateway, "launch_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// If parsing failed, trust caller.
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
