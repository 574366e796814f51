package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Email          string
	Username       string
	HashedPassword string
	Role           Role
	IsActive       bool
}

// Identity resolved by the route guard and attached to the request context
type Identity struct {
	UserID    uuid.UUID
	Username  string
	Email     string
	Role      Role
	TokenID   uuid.UUID
	SessionID uuid.UUID
	IssuedAt  time.Time
}
