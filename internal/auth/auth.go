package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/victornm/quizd/internal/errors"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Claims are the JWT claims of quizd tokens. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID int64
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Config struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

func NewAuthenticator(c Config) *Authenticator {
	a := &Authenticator{
		secret: []byte(c.Secret),
		issuer: c.Issuer,
		expiry: c.Expiry,
		now:    time.Now,
	}

	if a.expiry <= 0 {
		a.expiry = 24 * time.Hour
	}

	return a
}

func (a *Authenticator) IssueToken(userID int64, role Role) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
		Role: role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

// Verify parses and validates token. Any failure is reported as CodeUnauthenticated.
func (a *Authenticator) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"), errors.WithCause(err))
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token subject %q", claims.Subject), errors.WithCause(err))
	}

	switch claims.Role {
	case RoleAdmin, RoleUser:
	default:
		return Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token role %q", claims.Role))
	}

	return Identity{UserID: userID, Role: claims.Role}, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// MustFromContext returns the caller identity, or CodeUnauthenticated if the request was not authenticated.
func MustFromContext(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing credentials"))
	}
	return id, nil
}

// RequireAdmin fails with CodePermissionDenied unless the caller is an admin.
func RequireAdmin(ctx context.Context) (Identity, error) {
	id, err := MustFromContext(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !id.IsAdmin() {
		return Identity{}, errors.New(errors.CodePermissionDenied, errors.WithMessagef("admin role required"))
	}
	return id, nil
}

// GinMiddleware authenticates the Authorization bearer token and stores the identity in the request context.
func (a *Authenticator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.authenticate(c.GetHeader("Authorization"))
		if err != nil {
			e := errors.Convert(err)
			c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// UnaryServerInterceptor authenticates the "authorization" metadata of gRPC calls. Methods whose full
// name starts with one of skip are passed through unauthenticated.
func (a *Authenticator) UnaryServerInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		for _, prefix := range skip {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}

		id, err := a.authenticate(header)
		if err != nil {
			return nil, err
		}

		return handler(WithIdentity(ctx, id), req)
	}
}

func (a *Authenticator) authenticate(header string) (Identity, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("bearer token required"))
	}

	return a.Verify(strings.TrimSpace(token))
}
