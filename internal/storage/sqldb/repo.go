package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"reputation_hub/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil || p.IsZero() {
		return nil
	}
	return p.UTC()
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

type Repo struct {
	db *sql.DB
	d  dialect
}

var _ domain.Repository = (*Repo)(nil)

func New(db *sql.DB, driver string) (*Repo, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Repo{db: db, d: d}, nil
}

func (r *Repo) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.d.rebind(q), args...)
}

func (r *Repo) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.d.rebind(q), args...)
}

func (r *Repo) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, r.d.rebind(q), args...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) || isMalformedKey(err) {
		return domain.ErrNotFound
	}
	return err
}

// -----------------------------------------------------------------------------
// Locations
// -----------------------------------------------------------------------------

const locationCols = `l.id, l.name, l.gbp_location, l.timezone, l.created_at`

func scanLocation(sc interface{ Scan(...any) error }) (domain.Location, error) {
	var l domain.Location
	var gbp, tz sql.NullString
	if err := sc.Scan(&l.ID, &l.Name, &gbp, &tz, &l.CreatedAt); err != nil {
		return domain.Location{}, err
	}
	l.GBPLocation = strPtr(gbp)
	l.Timezone = strPtr(tz)
	return l, nil
}

func (r *Repo) ListLocationsForUser(ctx context.Context, userID string) ([]domain.Location, error) {
	rows, err := r.query(ctx, `
SELECT `+locationCols+`
FROM business_locations l
JOIN location_members m ON m.location_id = l.id
WHERE m.user_id = ?
ORDER BY l.name, l.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repo) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	l, err := scanLocation(r.queryRow(ctx, `SELECT `+locationCols+` FROM business_locations l WHERE l.id = ?`, id))
	if err != nil {
		return domain.Location{}, notFound(err)
	}
	return l, nil
}

func (r *Repo) IsMember(ctx context.Context, locationID, userID string) (bool, error) {
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM location_members WHERE location_id = ? AND user_id = ?`,
		locationID, userID).Scan(&n)
	if isMalformedKey(err) {
		// not a UUID, so no such location
		return false, nil
	}
	return n > 0, err
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

const connectionCols = `id, location_id, platform, external_account_id, display_name, access_token,
  refresh_token, token_expiry, status, updated_at`

func scanConnection(sc interface{ Scan(...any) error }) (domain.Connection, error) {
	var c domain.Connection
	var platform, status string
	var display, refresh sql.NullString
	var expiry sql.NullTime
	if err := sc.Scan(&c.ID, &c.LocationID, &platform, &c.ExternalAccountID, &display, &c.AccessToken,
		&refresh, &expiry, &status, &c.UpdatedAt); err != nil {
		return domain.Connection{}, err
	}
	c.Platform = domain.Platform(platform)
	c.Status = domain.ConnectionStatus(status)
	c.DisplayName = strPtr(display)
	c.RefreshToken = strPtr(refresh)
	c.TokenExpiry = timePtr(expiry)
	return c, nil
}

func (r *Repo) UpsertConnection(ctx context.Context, c domain.Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.ConnectionActive
	}
	_, err := r.exec(ctx, r.d.upsertConnection,
		c.ID,
		c.LocationID,
		string(c.Platform),
		c.ExternalAccountID,
		valStr(c.DisplayName),
		c.AccessToken,
		valStr(c.RefreshToken),
		valTime(c.TokenExpiry),
		string(c.Status),
	)
	return err
}

func (r *Repo) UpdateConnectionToken(ctx context.Context, id string, tok domain.OAuthToken) error {
	var refresh *string
	if tok.RefreshToken != "" {
		refresh = &tok.RefreshToken
	}
	_, err := r.exec(ctx, `
UPDATE platform_connections
SET access_token = ?, refresh_token = COALESCE(?, refresh_token), token_expiry = ?, status = ?
WHERE id = ?`,
		tok.AccessToken, valStr(refresh), valTime(&tok.Expiry), string(domain.ConnectionActive), id)
	return err
}

func (r *Repo) SetConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	_, err := r.exec(ctx, `UPDATE platform_connections SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (r *Repo) DeleteConnection(ctx context.Context, locationID string, p domain.Platform) error {
	res, err := r.exec(ctx, `DELETE FROM platform_connections WHERE location_id = ? AND platform = ?`,
		locationID, string(p))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) GetConnection(ctx context.Context, locationID string, p domain.Platform) (domain.Connection, error) {
	c, err := scanConnection(r.queryRow(ctx, `SELECT `+connectionCols+`
FROM platform_connections WHERE location_id = ? AND platform = ?`, locationID, string(p)))
	if err != nil {
		return domain.Connection{}, notFound(err)
	}
	return c, nil
}

func (r *Repo) FindConnectionByAccount(ctx context.Context, p domain.Platform, accountID string) (domain.Connection, error) {
	c, err := scanConnection(r.queryRow(ctx, `SELECT `+connectionCols+`
FROM platform_connections
WHERE platform = ? AND external_account_id = ? AND status <> ?
ORDER BY updated_at DESC
LIMIT 1`, string(p), accountID, string(domain.ConnectionDisconnected)))
	if err != nil {
		return domain.Connection{}, notFound(err)
	}
	return c, nil
}

func (r *Repo) listConnections(ctx context.Context, q string, args ...any) ([]domain.Connection, error) {
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) ListConnections(ctx context.Context, locationID string) ([]domain.Connection, error) {
	return r.listConnections(ctx, `SELECT `+connectionCols+`
FROM platform_connections WHERE location_id = ? ORDER BY platform`, locationID)
}

func (r *Repo) ListActiveConnections(ctx context.Context) ([]domain.Connection, error) {
	return r.listConnections(ctx, `SELECT `+connectionCols+`
FROM platform_connections WHERE status = ? ORDER BY location_id, platform`, string(domain.ConnectionActive))
}

// -----------------------------------------------------------------------------
// Sync state
// -----------------------------------------------------------------------------

func (r *Repo) SaveSyncState(ctx context.Context, s domain.SyncState) error {
	_, err := r.exec(ctx, r.d.upsertSyncState,
		s.LocationID,
		s.Source,
		valStr(s.Cursor),
		valTime(s.LastSyncedAt),
		s.LastStatus,
		valStr(s.LastError),
	)
	return err
}

func (r *Repo) ListSyncStates(ctx context.Context, locationID string) ([]domain.SyncState, error) {
	rows, err := r.query(ctx, `
SELECT location_id, source, page_cursor, last_synced_at, last_status, last_error
FROM sync_state WHERE location_id = ? ORDER BY source`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SyncState
	for rows.Next() {
		var s domain.SyncState
		var cur, lastErr sql.NullString
		var synced sql.NullTime
		if err := rows.Scan(&s.LocationID, &s.Source, &cur, &synced, &s.LastStatus, &lastErr); err != nil {
			return nil, err
		}
		s.Cursor = strPtr(cur)
		s.LastSyncedAt = timePtr(synced)
		s.LastError = strPtr(lastErr)
		out = append(out, s)
	}
	return out, rows.Err()
}
