package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/dealerdesk/internal/metrics"
	"github.com/hitoshi/dealerdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver           middleware.CallerResolver
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	RequestTimeout     time.Duration
	Logger             *slog.Logger

	// メトリクス（nilの場合は/metricsを公開しない）
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// ヘルスチェック
	DB Pinger

	// 勤怠・タスク
	AttendanceService AttendanceServiceInterface
	TaskService       TaskServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → Metrics → SecurityHeaders → CORS → Timeout
//	  → Auth → RateLimit(General) [→ RateLimit(Write)]
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Metrics != nil {
		r.Use(metrics.NewHTTPMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	if deps.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.RequestTimeout))
	}

	attendanceHandler := NewAttendanceHandler(deps.AttendanceService)
	taskHandler := NewTaskHandler(deps.TaskService)

	// --- 認証不要のルート ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB).Check)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Resolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		write := deps.RateLimiter.WriteMiddleware()

		// 勤怠管理
		r.Route("/api/attendance", func(r chi.Router) {
			r.With(write).Post("/clock-in", attendanceHandler.ClockIn)
			r.With(write).Post("/clock-out", attendanceHandler.ClockOut)
			r.Get("/current", attendanceHandler.GetCurrentSession)
			r.Get("/stats", attendanceHandler.GetStats)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", attendanceHandler.ListSessions)
				r.Get("/{id}", attendanceHandler.GetSession)
				// POST /api/attendance/sessions/{id}/approval - 管理者のみ
				r.With(write).Post("/{id}/approval", attendanceHandler.ApproveSession)
			})
		})

		// 日次タスク
		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)
			r.Get("/today", taskHandler.GetTodayTask)
			r.With(write).Put("/today", taskHandler.SubmitTodayTask)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.GetTask)
				r.With(write).Patch("/", taskHandler.UpdateTask)
				r.Get("/history", taskHandler.GetTaskHistory)
			})
		})
	})

	return r
}
