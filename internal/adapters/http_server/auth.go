package httpserver

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"reputation_hub/internal/domain"
)

const supabaseAudience = "authenticated"

type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SupabaseVerifier checks dashboard access tokens issued by Supabase Auth
// (HS256 with the project's JWT secret).
type SupabaseVerifier struct {
	secret []byte
}

var _ domain.TokenVerifier = (*SupabaseVerifier)(nil)

func NewSupabaseVerifier(secret string) *SupabaseVerifier {
	return &SupabaseVerifier{secret: []byte(secret)}
}

func (v *SupabaseVerifier) Verify(raw string) (domain.Principal, error) {
	if len(v.secret) == 0 {
		return domain.Principal{}, errors.New("jwt secret not configured")
	}
	var c supabaseClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(supabaseAudience), jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return domain.Principal{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}
