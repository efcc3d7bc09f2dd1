package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dealerdesk/internal/attendance"
	"github.com/hitoshi/dealerdesk/internal/auth"
	"github.com/hitoshi/dealerdesk/internal/config"
	"github.com/hitoshi/dealerdesk/internal/database"
	"github.com/hitoshi/dealerdesk/internal/handler"
	"github.com/hitoshi/dealerdesk/internal/logger"
	"github.com/hitoshi/dealerdesk/internal/metrics"
	"github.com/hitoshi/dealerdesk/internal/middleware"
	"github.com/hitoshi/dealerdesk/internal/model"
	"github.com/hitoshi/dealerdesk/internal/repository"
	"github.com/hitoshi/dealerdesk/internal/security"
	"github.com/hitoshi/dealerdesk/internal/tasklog"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの待機上限。
	shutdownTimeout = 30 * time.Second
	// startupPingTimeout は起動時のDB疎通確認のタイムアウト。
	startupPingTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
// 戻り値のio.Closerはログファイルを閉じるため、終了時に呼び出す。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベル・ファイル出力を反映する
	closer := logger.ConfigureDefault(w, logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとcontextをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(w, defaultCommandSet())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func logStart(cmd Command, cfg *config.Config) {
	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("business_timezone", cfg.BusinessTimezone.String()),
	)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	attendanceRepo := repository.NewPostgresAttendanceRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	page := model.PageLimits{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize}

	attendanceService := attendance.NewService(attendanceRepo, sanitizer, collector, attendance.Config{
		Location: cfg.BusinessTimezone,
		Page:     page,
	})
	taskService := tasklog.NewService(taskRepo, sanitizer, collector, tasklog.Config{
		Location: cfg.BusinessTimezone,
		Page:     page,
	})

	resolver := auth.NewJWTProvider(auth.ProviderConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		Users:  userRepo,
	})

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Resolver:           resolver,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		RequestTimeout:     cfg.RequestTimeout,
		Logger:             slog.Default(),
		Metrics:            collector,
		Gatherer:           registry,
		DB:                 db,
		AttendanceService:  attendanceService,
		TaskService:        taskService,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// runToken はJWT_SECRETで署名したアクセストークンを発行してoutに書き出す。
func runToken(out io.Writer, cfg *config.Config, opts tokenOptions) error {
	provider := auth.NewJWTProvider(auth.ProviderConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	})

	token, err := provider.Issue(model.Caller{UserID: opts.UserID, Role: model.Role(opts.Role)}, opts.TTL)
	if err != nil {
		return err
	}

	slog.Info("access token issued",
		slog.Int64("user_id", opts.UserID),
		slog.String("role", opts.Role),
		slog.Duration("ttl", opts.TTL),
	)
	_, err = fmt.Fprintln(out, token)
	return err
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
