package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"

	// Synthetic type of the user-wide "all sessions revoked" marker
	TokenTypeAll TokenType = "all"
)

// Blacklist reasons used by the services
const (
	ReasonRotation         = "rotation"
	ReasonLogout           = "logout"
	ReasonPasswordChange   = "password_change"
	ReasonManualRevocation = "manual_revocation"
	ReasonSecurityBreach   = "security_breach"
)

// Persisted record of an issued refresh token
type RefreshToken struct {
	JTI       uuid.UUID
	UserID    uuid.UUID
	SessionID uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Persisted record of explicitly revoked token (or user-wide marker)
type BlacklistEntry struct {
	TokenID   string
	UserID    uuid.UUID
	TokenType TokenType
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Claims carried by both access and refresh tokens
type TokenClaims struct {
	UserID    uuid.UUID
	TokenID   uuid.UUID
	SessionID uuid.UUID
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	ID        uuid.UUID
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager
// Only its refresh half is tracked in the store
type TokenPair struct {
	SessionID uuid.UUID
	Access    IssuedToken
	Refresh   IssuedToken
}
