package domain

import "time"

type Platform string

const (
	PlatformGoogle    Platform = "google"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformGoogle, PlatformInstagram, PlatformFacebook:
		return true
	}
	return false
}

// Location is a single business location; every other row hangs off it.
type Location struct {
	ID          string
	Name        string
	GBPLocation *string // "accounts/{a}/locations/{l}"
	Timezone    *string
	CreatedAt   time.Time
}

type Member struct {
	LocationID string
	UserID     string
	Role       string // owner|manager|viewer
}

type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Connection links a location to one platform account.
type Connection struct {
	ID                string
	LocationID        string
	Platform          Platform
	ExternalAccountID string // GBP location name, IG business account id, FB page id
	DisplayName       *string
	AccessToken       string
	RefreshToken      *string
	TokenExpiry       *time.Time
	Status            ConnectionStatus
	UpdatedAt         time.Time
}

type SyncState struct {
	LocationID   string
	Source       string // google_reviews|instagram_comments|facebook_comments
	Cursor       *string
	LastSyncedAt *time.Time
	LastStatus   int
	LastError    *string
}
