package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"reputation_hub/internal/domain"
)

// activeConnection returns the location's connection for p, or
// ErrNotConnected when there is none or it was disconnected.
func activeConnection(ctx context.Context, repo domain.ConnectionStore, loc string, p domain.Platform) (domain.Connection, error) {
	conn, err := repo.GetConnection(ctx, loc, p)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Connection{}, fmt.Errorf("%s: %w", p, domain.ErrNotConnected)
	}
	if err != nil {
		return domain.Connection{}, err
	}
	if conn.Status == domain.ConnectionDisconnected {
		return domain.Connection{}, fmt.Errorf("%s: %w", p, domain.ErrNotConnected)
	}
	return conn, nil
}

// platformErr flags the connection when the platform rejected its token and
// reports that as ErrNotConnected, so a revoked platform token is never
// confused with the dashboard user's own credentials.
func platformErr(ctx context.Context, repo domain.ConnectionStore, conn domain.Connection, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden) {
		if serr := repo.SetConnectionStatus(ctx, conn.ID, domain.ConnectionError); serr != nil {
			log.Warn().Err(serr).Str("connection", conn.ID).Msg("flag connection failed")
		}
		return fmt.Errorf("%s token rejected: %w", conn.Platform, domain.ErrNotConnected)
	}
	return err
}
