package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"GatewayHMA/internal/delivery"
	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/hma"
	"GatewayHMA/internal/observability/metrics"
	"GatewayHMA/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

// CycleRunner 执行一次编排周期。
type CycleRunner interface {
	Run(ctx context.Context, req hma.Request) (*delivery.Envelope, error)
}

// CycleRequest 是 POST /api/v1/cycles 的请求体。
type CycleRequest struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
	CorrID  string `json:"corr_id,omitempty"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// Server 负责暴露 REST 接口，供外部驱动编排周期。
type Server struct {
	addr            string
	runner          CycleRunner
	metrics         *metrics.Metrics
	logger          *slog.Logger
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	tokens          [][]byte
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 启用 /metrics 与请求统计。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger 设置日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestTimeout 设置单个周期请求的超时。
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner CycleRunner, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		runner:          runner,
		logger:          logger.Named("api"),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/cycles", s.instrument("cycles", s.requireToken(http.HandlerFunc(s.handleCycles))))
	mux.Handle("/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "仅支持 POST")
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "", "编排器未初始化")
		return
	}

	var req CycleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "text 不能为空")
		return
	}
	if req.CorrID == "" {
		req.CorrID = uuid.NewString()
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	env, err := s.runner.Run(ctx, hma.Request{UserText: req.Text, Context: req.Context, CorrID: req.CorrID})
	if err != nil {
		s.logger.Warn("编排周期失败", slog.String("corr_id", req.CorrID), slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "仅支持 GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{OK: false, Code: code, Error: message})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
