package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate"
	"github.com/agentsphere/toolgate/config"
	"github.com/agentsphere/toolgate/fetch"
	"github.com/agentsphere/toolgate/internal/server"
	"github.com/agentsphere/toolgate/search"
	"github.com/agentsphere/toolgate/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Toolgate 的 HTTP 服务器
type Server struct {
	cfg     *config.Config
	gateway *toolgate.Gateway
	logger  *zap.Logger
	manager *server.Manager
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, gateway *toolgate.Gateway, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		gateway: gateway,
		logger:  logger,
	}
}

// Start 启动 HTTP 服务器
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/command", s.handleCommand)
	mux.HandleFunc("/v1/code", s.handleCode)
	mux.HandleFunc("/v1/fetch", s.handleFetch)
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/sessions/", s.handleSession)

	s.manager = server.NewManager(s.withLogging(mux), server.Config{
		Addr:            ":" + strconv.Itoa(s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.manager.Start(); err != nil {
		return err
	}
	s.logger.Info("Server started", zap.Int("http_port", s.cfg.Server.HTTPPort))
	return nil
}

// WaitForShutdown 等待关闭信号并优雅退出
func (s *Server) WaitForShutdown() {
	s.manager.WaitForShutdown()
}

// =============================================================================
// 🧰 Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       Version,
		"live_sessions": s.gateway.Sessions.Len(),
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, types.NewError(types.ErrInvalidInput, "POST required"))
		return
	}
	var req struct {
		SessionID      string `json:"session_id"`
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body").WithCause(err))
		return
	}

	result, err := s.gateway.Commands.Execute(r.Context(), req.SessionID, req.Command,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, types.NewError(types.ErrInvalidInput, "POST required"))
		return
	}
	var req struct {
		SessionID      string `json:"session_id"`
		Code           string `json:"code"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body").WithCause(err))
		return
	}

	result, err := s.gateway.Code.Execute(r.Context(), req.SessionID, req.Code,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, types.NewError(types.ErrInvalidInput, "POST required"))
		return
	}
	var req struct {
		URLs          []string `json:"urls"`
		Concurrency   int      `json:"concurrency"`
		TotalCharsCap int      `json:"total_chars_cap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body").WithCause(err))
		return
	}

	result, err := s.gateway.Fetcher.FetchBatch(r.Context(), req.URLs, fetch.BatchOptions{
		Concurrency:   req.Concurrency,
		TotalCharsCap: req.TotalCharsCap,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, types.NewError(types.ErrInvalidInput, "POST required"))
		return
	}
	var req struct {
		Engine     string `json:"engine"`
		Query      string `json:"query"`
		TimeFilter string `json:"time_filter"`
		Locale     string `json:"locale"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body").WithCause(err))
		return
	}

	resp, err := s.gateway.Search.Search(r.Context(), search.Engine(req.Engine), req.Query, search.Options{
		TimeFilter: req.TimeFilter,
		Locale:     req.Locale,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSession serves /v1/sessions/{id}/variables (GET) and
// /v1/sessions/{id} (DELETE).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, types.NewError(types.ErrInvalidInput, "session id missing"))
		return
	}

	switch {
	case r.Method == http.MethodGet && sub == "variables":
		vars, err := s.gateway.Code.Variables(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "variables": vars})

	case r.Method == http.MethodDelete && sub == "":
		if err := s.gateway.Sessions.Close(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "closed": true})

	default:
		writeError(w, types.NewError(types.ErrNotFound, "no such endpoint"))
	}
}

// =============================================================================
// 🔌 中间件与响应辅助
// =============================================================================

// withLogging 记录每个请求的方法、路径、耗时，并吞掉 handler panic
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				writeError(w, types.NewError(types.ErrInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps sandbox error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := types.GetErrorCode(err)

	switch code {
	case types.ErrInvalidInput, types.ErrQuoting, types.ErrSyntax, types.ErrSchema, types.ErrSchemaCycle:
		status = http.StatusBadRequest
	case types.ErrPermissionDenied, types.ErrCommandBlocked, types.ErrSSRFBlocked:
		status = http.StatusForbidden
	case types.ErrNotFound:
		status = http.StatusNotFound
	case types.ErrTimeout:
		status = http.StatusGatewayTimeout
	case types.ErrRateLimited, types.ErrSessionLimit, types.ErrResourceExhausted:
		status = http.StatusTooManyRequests
	case types.ErrUpstream, types.ErrCircuitOpen:
		status = http.StatusBadGateway
	}

	var terr *types.Error
	if errors.As(err, &terr) && terr.HTTPStatus != 0 {
		status = terr.HTTPStatus
	}

	writeJSON(w, status, map[string]any{
		"error":      err.Error(),
		"error_code": string(code),
	})
}
