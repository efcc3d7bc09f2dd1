package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	WriteRate       rate.Limit    // 打刻・タスク保存・承認のレート（req/sec）。30/60
	WriteBurst      int           // 書き込み系のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、書き込み系 30 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120, 30)
}

// PerMinuteRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を組み立てる。
// バーストサイズは1分あたりの件数と同じにする。
func PerMinuteRateLimiterConfig(generalPerMinute, writePerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		WriteRate:       rate.Limit(float64(writePerMinute) / 60.0),
		WriteBurst:      writePerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は1種類のレート制限についてユーザーごとのリミッターを管理する。
type limiterPool struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[int64]*userLimiter
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{limit: limit, burst: burst, limiters: make(map[int64]*userLimiter)}
}

// get はユーザーのリミッターを取得または作成する。
func (p *limiterPool) get(userID int64, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ul, ok := p.limiters[userID]; ok {
		ul.lastAccess = now
		return ul.limiter
	}
	ul := &userLimiter{limiter: rate.NewLimiter(p.limit, p.burst), lastAccess: now}
	p.limiters[userID] = ul
	return ul.limiter
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (p *limiterPool) evict(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, ul := range p.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(p.limiters, userID)
		}
	}
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般のレート制限と書き込み系操作のレート制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	write   *limiterPool
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool(config.GeneralRate, config.GeneralBurst),
		write:   newLimiterPool(config.WriteRate, config.WriteBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// WriteMiddleware は打刻・タスク保存・承認など書き込み系操作のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) WriteMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.write, "write")
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// WriteLimiterCount は現在管理されている書き込み系リミッターのエントリ数を返す。
func (rl *RateLimiter) WriteLimiterCount() int {
	return rl.write.len()
}

func (rl *RateLimiter) middleware(pool *limiterPool, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				WriteError(w, r, model.NewUnauthorizedError(nil))
				return
			}

			if !pool.get(caller.UserID, time.Now()).Allow() {
				writeRateLimitResponse(w, pool.limit)
				slog.WarnContext(r.Context(), "rate limit exceeded",
					slog.Int64("user_id", caller.UserID),
					slog.String("limit_type", limitType),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.general.evict(now, ttl)
	rl.write.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "リクエストが多すぎます。",
		Kind:    model.KindSystem,
		Action:  "Retry-Afterの秒数だけ待ってから再度お試しください。",
	})
}
