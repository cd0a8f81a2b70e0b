package models

import (
	"strings"
	"time"
)

// Grant is a single-use authorization code binding a client, a resource owner and a scope set
type Grant struct {
	Code        string `gorm:"size:64;primaryKey"`
	ClientID    string `gorm:"size:191;not null;index"`
	UserID      string `gorm:"not null"`
	Scopes      string // Space-separated
	RedirectURI string `gorm:"not null"`
	Consumed    bool   `gorm:"not null;default:false"`
	ConsumedAt  *time.Time
	CreatedAt   time.Time `gorm:"not null"`
}

func (Grant) TableName() string {
	return "oauth_grants"
}

// ScopeList returns the granted scopes as a slice
func (g *Grant) ScopeList() []string {
	return strings.Fields(g.Scopes)
}

// Expired reports whether the grant is older than ttl at the given instant
func (g *Grant) Expired(ttl time.Duration, now time.Time) bool {
	return now.After(g.CreatedAt.Add(ttl))
}
