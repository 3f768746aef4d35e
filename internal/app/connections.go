package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

const (
	stateAudience = "rephub-oauth-state"
	stateTTL      = 10 * time.Minute
)

// oauthState travels through the provider's consent screen and back; it
// binds the callback to the user and location that started the flow.
type oauthState struct {
	LocationID string `json:"loc"`
	Platform   string `json:"plt"`
	jwt.RegisteredClaims
}

type ConnectionService struct {
	repo        domain.Repository
	googleAuth  domain.GoogleAuth
	metaAuth    domain.MetaAuth
	cache       domain.Cache
	stateSecret []byte
}

func NewConnectionService(r domain.Repository, g domain.GoogleAuth, m domain.MetaAuth, c domain.Cache, stateSecret string) *ConnectionService {
	return &ConnectionService{repo: r, googleAuth: g, metaAuth: m, cache: c, stateSecret: []byte(stateSecret)}
}

func (s *ConnectionService) signState(userID, loc string, p domain.Platform) (string, error) {
	if len(s.stateSecret) == 0 {
		return "", fmt.Errorf("oauth state secret: %w", domain.ErrUnavailable)
	}
	now := time.Now()
	claims := oauthState{
		LocationID: loc,
		Platform:   string(p),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateSecret)
}

func (s *ConnectionService) parseState(raw string, p domain.Platform) (oauthState, error) {
	var st oauthState
	_, err := jwt.ParseWithClaims(raw, &st, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.stateSecret, nil
	}, jwt.WithAudience(stateAudience), jwt.WithExpirationRequired())
	if err != nil {
		return oauthState{}, fmt.Errorf("oauth state: %v: %w", err, domain.ErrUnauthorized)
	}
	if st.Platform != string(p) || st.Subject == "" || st.LocationID == "" {
		return oauthState{}, fmt.Errorf("oauth state does not match flow: %w", domain.ErrUnauthorized)
	}
	return st, nil
}

// verifyState also re-checks membership, which may have been revoked while
// the user was on the consent screen.
func (s *ConnectionService) verifyState(ctx context.Context, raw string, p domain.Platform) (oauthState, error) {
	st, err := s.parseState(raw, p)
	if err != nil {
		return oauthState{}, err
	}
	ok, err := s.repo.IsMember(ctx, st.LocationID, st.Subject)
	if err != nil {
		return oauthState{}, err
	}
	if !ok {
		return oauthState{}, domain.ErrForbidden
	}
	return st, nil
}

func (s *ConnectionService) GoogleAuthURL(ctx context.Context, userID, loc string) (string, error) {
	if s.googleAuth == nil {
		return "", fmt.Errorf("google oauth: %w", domain.ErrUnavailable)
	}
	st, err := s.signState(userID, loc, domain.PlatformGoogle)
	if err != nil {
		return "", err
	}
	return s.googleAuth.AuthCodeURL(st), nil
}

func (s *ConnectionService) MetaAuthURL(ctx context.Context, userID, loc string) (string, error) {
	if s.metaAuth == nil {
		return "", fmt.Errorf("meta oauth: %w", domain.ErrUnavailable)
	}
	st, err := s.signState(userID, loc, domain.PlatformFacebook)
	if err != nil {
		return "", err
	}
	return s.metaAuth.AuthCodeURL(st), nil
}

// GoogleCallback stores the Google connection. The GBP location is the one
// already recorded on the business location when the account can see it,
// otherwise the first one the account owns.
func (s *ConnectionService) GoogleCallback(ctx context.Context, code, state string) (domain.Connection, error) {
	st, err := s.verifyState(ctx, state, domain.PlatformGoogle)
	if err != nil {
		return domain.Connection{}, err
	}
	tok, err := s.googleAuth.Exchange(ctx, code)
	if err != nil {
		return domain.Connection{}, err
	}
	gbps, err := s.googleAuth.ListLocations(ctx, tok)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("list business profile locations: %w", err)
	}
	if len(gbps) == 0 {
		return domain.Connection{}, fmt.Errorf("account has no business profile locations: %w", domain.ErrInvalidInput)
	}
	loc, err := s.repo.GetLocation(ctx, st.LocationID)
	if err != nil {
		return domain.Connection{}, err
	}
	chosen := gbps[0]
	for _, g := range gbps {
		if loc.GBPLocation != nil && g.Name == *loc.GBPLocation {
			chosen = g
			break
		}
	}

	conn := domain.Connection{
		LocationID:        st.LocationID,
		Platform:          domain.PlatformGoogle,
		ExternalAccountID: chosen.Name,
		DisplayName:       ptrStr(chosen.Title),
		AccessToken:       tok.AccessToken,
		RefreshToken:      ptrStr(tok.RefreshToken),
		Status:            domain.ConnectionActive,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		conn.TokenExpiry = &exp
	}
	if err := s.repo.UpsertConnection(ctx, conn); err != nil {
		return domain.Connection{}, err
	}
	log.Info().Str("location", st.LocationID).Str("gbp", chosen.Name).Msg("google connected")
	return conn, nil
}

// MetaCallback stores a facebook connection for the chosen page and, when the
// page has a linked instagram business account, an instagram connection
// using the same page token.
func (s *ConnectionService) MetaCallback(ctx context.Context, code, state string) ([]domain.Connection, error) {
	st, err := s.verifyState(ctx, state, domain.PlatformFacebook)
	if err != nil {
		return nil, err
	}
	short, err := s.metaAuth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	long, err := s.metaAuth.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, err
	}
	pages, err := s.metaAuth.ListPages(ctx, long.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("user manages no facebook pages: %w", domain.ErrInvalidInput)
	}
	page := pages[0]
	for _, p := range pages {
		if p.InstagramID != "" {
			page = p
			break
		}
	}

	out := []domain.Connection{{
		LocationID:        st.LocationID,
		Platform:          domain.PlatformFacebook,
		ExternalAccountID: page.ID,
		DisplayName:       ptrStr(page.Name),
		AccessToken:       page.AccessToken,
		Status:            domain.ConnectionActive,
	}}
	if page.InstagramID != "" {
		out = append(out, domain.Connection{
			LocationID:        st.LocationID,
			Platform:          domain.PlatformInstagram,
			ExternalAccountID: page.InstagramID,
			DisplayName:       ptrStr(page.InstagramUsername),
			AccessToken:       page.AccessToken,
			Status:            domain.ConnectionActive,
		})
	}
	for _, c := range out {
		if err := s.repo.UpsertConnection(ctx, c); err != nil {
			return nil, err
		}
	}
	if page.InstagramID == "" {
		// an earlier instagram connection still holds the previous page token
		prev, err := s.repo.GetConnection(ctx, st.LocationID, domain.PlatformInstagram)
		switch {
		case err == nil && prev.Status != domain.ConnectionDisconnected:
			if err := s.repo.SetConnectionStatus(ctx, prev.ID, domain.ConnectionDisconnected); err != nil {
				return nil, err
			}
			log.Info().Str("location", st.LocationID).Str("instagram", prev.ExternalAccountID).Msg("instagram connection retired; page has no linked account")
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	log.Info().Str("location", st.LocationID).Str("page", page.ID).Str("instagram", page.InstagramID).Msg("meta connected")
	return out, nil
}

func (s *ConnectionService) List(ctx context.Context, loc string) ([]domain.Connection, error) {
	return s.repo.ListConnections(ctx, loc)
}

func (s *ConnectionService) SyncStates(ctx context.Context, loc string) ([]domain.SyncState, error) {
	return s.repo.ListSyncStates(ctx, loc)
}

// Disconnect removes the connection and its tokens. Stored reviews, messages
// and comments stay.
func (s *ConnectionService) Disconnect(ctx context.Context, loc string, p domain.Platform) error {
	if !p.Valid() {
		return fmt.Errorf("platform %q: %w", p, domain.ErrInvalidInput)
	}
	if err := s.repo.DeleteConnection(ctx, loc, p); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%s: %w", p, domain.ErrNotConnected)
		}
		return err
	}
	invalidate(ctx, s.cache, loc, "analytics")
	return nil
}
