package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	audienceSession = "session"
	audienceWS      = "ws"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

var ErrUnauthorized = errors.New("unauthorized")

// Claims are the JWT claims shared by session and ws tokens.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the caller may manage any auction.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (c *Claims) principal() (Principal, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: invalid subject", ErrUnauthorized)
	}
	return Principal{UserID: id, Role: c.Role}, nil
}

// Issuer signs and verifies HS256 tokens. Session tokens are long lived bearer
// tokens; ws tokens are short lived and redeemable once.
type Issuer struct {
	secret     []byte
	sessionTTL time.Duration
	wsTTL      time.Duration
	guard      ReplayGuard
	now        func() time.Time
}

// NewIssuer creates an Issuer. guard records redeemed ws tokens.
func NewIssuer(secret string, sessionTTL, wsTTL time.Duration, guard ReplayGuard) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		wsTTL:      wsTTL,
		guard:      guard,
		now:        time.Now,
	}
}

// IssueSession creates a session token for userID.
func (i *Issuer) IssueSession(userID int64, role string) (string, time.Time, error) {
	return i.sign(Principal{UserID: userID, Role: role}, audienceSession, i.sessionTTL)
}

// IssueWSToken creates a single use token that authorizes one WebSocket handshake.
func (i *Issuer) IssueWSToken(p Principal) (string, time.Time, error) {
	return i.sign(p, audienceWS, i.wsTTL)
}

func (i *Issuer) sign(p Principal, audience string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(p.UserID, 10),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseSession validates a session token.
func (i *Issuer) ParseSession(token string) (Principal, error) {
	claims, err := i.parse(token, audienceSession)
	if err != nil {
		return Principal{}, err
	}
	return claims.principal()
}

// RedeemWSToken validates a ws token and burns it, so a second use fails.
func (i *Issuer) RedeemWSToken(ctx context.Context, token string) (Principal, error) {
	claims, err := i.parse(token, audienceWS)
	if err != nil {
		return Principal{}, err
	}
	p, err := claims.principal()
	if err != nil {
		return Principal{}, err
	}

	ttl := claims.ExpiresAt.Time.Sub(i.now())
	fresh, err := i.guard.Consume(ctx, claims.ID, ttl)
	if err != nil {
		return Principal{}, fmt.Errorf("redeem ws token: %w", err)
	}
	if !fresh {
		return Principal{}, fmt.Errorf("%w: ws token already used", ErrUnauthorized)
	}
	return p, nil
}

func (i *Issuer) parse(token, audience string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return claims, nil
}
