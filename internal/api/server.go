package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ToolFlow/internal/engine"
	xerrors "ToolFlow/internal/errors"
	"ToolFlow/internal/observability/metrics"
	"ToolFlow/internal/plan"
	"ToolFlow/internal/provider"
	"ToolFlow/internal/run"
)

// Server 负责暴露 REST 接口，供外部提交与查询计划运行。
type Server struct {
	addr     string
	runs     *run.Service
	engine   *engine.Engine
	registry *provider.Registry
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs *run.Service, eng *engine.Engine, registry *provider.Registry) *Server {
	return &Server{addr: addr, runs: runs, engine: eng, registry: registry}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", instrument("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", instrument("run_detail", s.handleRunPath))
	mux.HandleFunc("/api/v1/execute", instrument("execute", s.handleExecute))
	mux.HandleFunc("/api/v1/tools", instrument("tools", s.handleTools))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitRun 校验计划并以异步运行的方式入队。
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req run.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	created, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	results, err := s.runs.List(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleRunPath 处理 /api/v1/runs/{id} 与 /api/v1/runs/stats。
func (s *Server) handleRunPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}

	if rest == "stats" {
		stats, err := s.runs.Stats(r.Context(), listOptionsFromQuery(r)...)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	result, err := s.runs.Get(r.Context(), rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExecute 同步执行计划并返回聚合结果，不经过队列与存储。
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "执行引擎未初始化", http.StatusServiceUnavailable)
		return
	}

	var p plan.ExecutionPlan
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	result, err := s.engine.Execute(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.registry == nil {
		http.Error(w, "工具注册表未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Tools())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listOptionsFromQuery 将查询参数转换成运行列表过滤条件。
func listOptionsFromQuery(r *http.Request) []run.ListOption {
	query := r.URL.Query()
	opts := make([]run.ListOption, 0, 6)

	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, run.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, run.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]run.Status, 0, 4)
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, run.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if raw := query.Get("strategy"); raw != "" {
		strategies := make([]plan.Strategy, 0, 4)
		for _, part := range strings.Split(raw, ",") {
			strategies = append(strategies, plan.Strategy(strings.TrimSpace(part)))
		}
		opts = append(opts, run.WithStrategies(strategies...))
	}
	if raw := query.Get("has_result"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			opts = append(opts, run.WithResultPresence(parsed))
		}
	}
	if raw := query.Get("updated_since"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			opts = append(opts, run.WithUpdatedSince(time.Unix(parsed, 0)))
		}
	}
	if raw := query.Get("updated_until"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			opts = append(opts, run.WithUpdatedUntil(time.Unix(parsed, 0)))
		}
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
	}
	return opts
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError 将带错误码的错误映射为 HTTP 状态码与 JSON 响应。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case plan.CodePlanInvalid, run.CodeRunValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case run.CodeRunNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case run.CodeRunConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(code),
		Message: err.Error(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 捕获写入的状态码供指标采集使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求量与耗时指标。
func instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
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
