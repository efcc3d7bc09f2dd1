// Package auth はIdentity Providerが発行したトークンからリクエストの呼び出し元を解決する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// defaultLeeway は発行元とのクロックずれを許容する幅。
const defaultLeeway = 30 * time.Second

// Claims はアクセストークンのクレーム。
type Claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserFinder はユーザー行の参照インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// ProviderConfig はJWTProviderの設定。
type ProviderConfig struct {
	Secret []byte
	Issuer string // 空の場合はissを検証しない
	Leeway time.Duration
	// Users が設定されている場合、トークンのユーザーが存在し有効であることを毎リクエスト確認する。
	Users UserFinder
	// Now はテスト用の現在時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// JWTProvider はHS256署名のアクセストークンを検証してCallerを解決する。
type JWTProvider struct {
	secret []byte
	issuer string
	leeway time.Duration
	users  UserFinder
	now    func() time.Time
}

// NewJWTProvider はJWTProviderを生成する。
func NewJWTProvider(cfg ProviderConfig) *JWTProvider {
	p := &JWTProvider{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		users:  cfg.Users,
		now:    cfg.Now,
	}
	if p.leeway <= 0 {
		p.leeway = defaultLeeway
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// ResolveCaller はトークンを検証し、呼び出し元を返す。
// 署名・有効期限・発行元のいずれかが不正な場合、またはユーザーが存在しないか無効な場合は認証エラーを返す。
// ユーザー行が参照できる場合はその行のロールを優先する。
func (p *JWTProvider) ResolveCaller(ctx context.Context, tokenString string) (model.Caller, error) {
	if strings.TrimSpace(tokenString) == "" {
		return model.Caller{}, model.NewUnauthorizedError(errors.New("missing token"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(p.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return model.Caller{}, model.NewUnauthorizedError(fmt.Errorf("invalid token: %w", err))
	}
	if claims.UserID <= 0 {
		return model.Caller{}, model.NewUnauthorizedError(errors.New("token has no user id"))
	}

	role, ok := parseRole(claims.Role)
	if !ok {
		return model.Caller{}, model.NewUnauthorizedError(fmt.Errorf("unknown role %q", claims.Role))
	}
	caller := model.Caller{UserID: claims.UserID, Role: role}

	if p.users == nil {
		return caller, nil
	}

	user, err := p.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return model.Caller{}, err
	}
	if user == nil {
		return model.Caller{}, model.NewUnauthorizedError(fmt.Errorf("user %d not found", claims.UserID))
	}
	if !user.Active {
		return model.Caller{}, model.NewUnauthorizedError(fmt.Errorf("user %d is inactive", claims.UserID))
	}
	if userRole, ok := parseRole(string(user.Role)); ok {
		caller.Role = userRole
	}

	return caller, nil
}

// Issue はcallerのアクセストークンを発行する。開発・運用時のトークン発行に使う。
func (p *JWTProvider) Issue(caller model.Caller, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		UserID: caller.UserID,
		Role:   string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   strconv.FormatInt(caller.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parseRole はロール文字列を変換する。未指定はemployee扱い。
func parseRole(s string) (model.Role, bool) {
	switch model.Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", model.RoleEmployee:
		return model.RoleEmployee, true
	case model.RoleAdmin:
		return model.RoleAdmin, true
	}
	return "", false
}
