package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/loginguard"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/response"
)

const (
	// TenantIDKey is the gin.Context key holding the authenticated tenant.
	TenantIDKey = "tenant_id"
	// AdminTokenHeader authenticates operator endpoints.
	AdminTokenHeader = "X-Admin-Token"
	// AdminActor is recorded as the actor of operator requests.
	AdminActor = "admin"

	tokenIssuer = "invoicing"
)

var errNoCredentials = errors.New("missing credentials")

// Auth authenticates tenants with HS256 bearer tokens and operators with a
// static admin token. Failed attempts are counted per client IP.
type Auth struct {
	secret     []byte
	adminToken string
	ttl        time.Duration
	guard      *loginguard.Guard
	log        *zap.SugaredLogger
}

func NewAuth(cfg *config.Config, guard *loginguard.Guard, log *zap.SugaredLogger) *Auth {
	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Auth{
		secret:     []byte(cfg.Auth.JWTSecret),
		adminToken: cfg.Auth.AdminToken,
		ttl:        ttl,
		guard:      guard,
		log:        log,
	}
}

// IssueToken returns a bearer token whose subject is tenantID.
func (a *Auth) IssueToken(tenantID string, now time.Time) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   tenantID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) parse(header string) (string, error) {
	if header == "" {
		return "", errNoCredentials
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	if len(a.secret) == 0 {
		return "", jwt.ErrTokenUnverifiable
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(parts[1], &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

// RequireTenant rejects requests without a valid bearer token and binds the
// tenant to the request context.
func (a *Auth) RequireTenant() gin.HandlerFunc {
	return a.guarded(func(c *gin.Context) (string, string, error) {
		tenantID, err := a.parse(c.GetHeader("Authorization"))
		return tenantID, tenantID, err
	})
}

// RequireAdmin rejects requests without the configured admin token.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return a.guarded(func(c *gin.Context) (string, string, error) {
		got := c.GetHeader(AdminTokenHeader)
		if got == "" {
			return "", "", errNoCredentials
		}
		if a.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.adminToken)) != 1 {
			return "", "", errors.New("admin token mismatch")
		}
		return "", AdminActor, nil
	})
}

type authenticator func(c *gin.Context) (tenantID, actor string, err error)

func (a *Auth) guarded(authn authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "ip:" + c.ClientIP()
		failures, err := a.guard.Check(ctx, key)
		if errors.Is(err, apperr.ErrTooManyAttempts) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.ErrorT[any](response.APIResponseCodeTooManyAttempts, nil))
			return
		}

		tenantID, actor, err := authn(c)
		if err != nil {
			if !errors.Is(err, errNoCredentials) {
				a.guard.Fail(ctx, key)
			}
			logctx.FromGin(c, a.log).Infow("authentication failed", "client_ip", c.ClientIP(), "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		if failures > 0 {
			a.guard.Succeed(ctx, key)
		}

		if tenantID != "" {
			c.Set(TenantIDKey, tenantID)
		}
		c.Request = c.Request.WithContext(logctx.WithTenant(ctx, tenantID, actor))
		if l, ok := c.Get(logctx.GinLoggerKey); ok {
			if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil && tenantID != "" {
				lg = lg.With("tenant_id", tenantID)
				c.Set(logctx.GinLoggerKey, lg)
				c.Request = c.Request.WithContext(logctx.WithLogger(c.Request.Context(), lg))
			}
		}
		c.Next()
	}
}

// TenantID returns the tenant bound by RequireTenant.
func TenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

var Module = fx.Options(
	fx.Provide(NewAuth),
)
