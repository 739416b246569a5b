package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PabloGalante/farum-voice/internal/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator maps bearer tokens to identities. Requests without a token use the
// shared guest identity.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Sign issues an HS256 token whose subject is the user id.
func (a *Authenticator) Sign(userID domain.UserID, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("sign token: empty user id")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Identify resolves the value of an Authorization header.
func (a *Authenticator) Identify(header string) (domain.Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.Guest(), nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return domain.Identity{}, fmt.Errorf("%w: authorization header format must be Bearer <token>", ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, fmt.Errorf("%w: token expired", ErrUnauthorized)
		}
		return domain.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	return domain.User(domain.UserID(claims.Subject)), nil
}

type identityKey struct{}

func withIdentityValue(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFrom returns the request identity, guest if none was set.
func identityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}
