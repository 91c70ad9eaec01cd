package domain

import (
	"time"
)

type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Providers lists every provider the service knows about, in a stable order.
var Providers = []Provider{ProviderGoogle, ProviderMicrosoft}

func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// ConnectionStatus describes what a connection can currently do.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnected    ConnectionStatus = "connected"
	StatusNeedsReauth  ConnectionStatus = "needs_reauth"
)

// Connection holds the OAuth credentials for one calendar provider.
// PKCEVerifier and Nonce are transient: they only exist between the
// authorize call and the matching callback.
type Connection struct {
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	PKCEVerifier string    `json:"-"`
	Nonce        string    `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Status derives the connection status from the stored tokens.
// A connection without a refresh token cannot self-heal.
func (c *Connection) Status() ConnectionStatus {
	if c == nil || (c.AccessToken == "" && c.RefreshToken == "") {
		return StatusDisconnected
	}
	if c.RefreshToken == "" {
		return StatusNeedsReauth
	}
	return StatusConnected
}

// Connected reports whether the connection can serve fetches at all.
func (c *Connection) Connected() bool {
	return c != nil && c.RefreshToken != ""
}

// Clear wipes all token and PKCE material. Idempotent.
func (c *Connection) Clear() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.ExpiresAt = time.Time{}
	c.PKCEVerifier = ""
	c.Nonce = ""
	c.UpdatedAt = time.Now()
}
