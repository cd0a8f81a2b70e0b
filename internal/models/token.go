package models

import (
	"strings"
	"time"
)

// Token is an access/refresh credential pair.
// Records are never mutated except for being superseded when their refresh token is redeemed.
type Token struct {
	ID           uint   `gorm:"primaryKey"`
	ClientID     string `gorm:"size:191;not null;index"`
	UserID       string `gorm:"not null"`
	AccessToken  string `gorm:"size:700;uniqueIndex;not null"` // JWTs need the room
	RefreshToken string `gorm:"size:255;uniqueIndex;not null"`
	TokenType    string `gorm:"not null;default:'Bearer'"`
	Scopes       string // Space-separated
	ExpiresIn    int64  `gorm:"not null"` // Access token lifetime in seconds
	Superseded   bool   `gorm:"not null;default:false"`
	SupersededAt *time.Time
	IssuedAt     time.Time `gorm:"not null"`
}

func (Token) TableName() string {
	return "oauth_tokens"
}

// ScopeList returns the token scopes as a slice
func (t *Token) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

// RefreshExpired reports whether the refresh token is older than ttl at the given instant
func (t *Token) RefreshExpired(ttl time.Duration, now time.Time) bool {
	return now.After(t.IssuedAt.Add(ttl))
}
