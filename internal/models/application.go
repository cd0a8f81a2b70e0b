package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Application is a registered OAuth2 client.
// It implements oauth2.ClientInfo and oauth2.ClientPasswordVerifier so it can
// be handed to the go-oauth2 token generators unchanged.
type Application struct {
	ClientID      string `gorm:"primaryKey"`
	ClientSecret  string `gorm:"not null"` // bcrypt hash, never the plain secret
	Name          string
	RedirectURL   string `gorm:"not null"`
	WebsiteURL    string
	AllowedScopes string // Space-separated; empty means the server allow-list applies
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (Application) TableName() string {
	return "oauth_applications"
}

// Scopes returns the application's allowed scopes as a slice
func (a *Application) Scopes() []string {
	return strings.Fields(a.AllowedScopes)
}

func (a *Application) GetID() string {
	return a.ClientID
}

func (a *Application) GetSecret() string {
	return a.ClientSecret
}

func (a *Application) GetDomain() string {
	return a.RedirectURL
}

func (a *Application) IsPublic() bool {
	return false
}

// GetUserID returns an empty string, applications are not owned by a resource owner here
func (a *Application) GetUserID() string {
	return ""
}

// VerifyPassword compares the plain secret against the stored bcrypt hash.
// bcrypt compares digests in constant time.
func (a *Application) VerifyPassword(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.ClientSecret), []byte(secret)) == nil
}

// HashSecret replaces the plain ClientSecret with its bcrypt hash
func (a *Application) HashSecret(cost int) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(a.ClientSecret), cost)
	if err != nil {
		return err
	}
	a.ClientSecret = string(hashed)
	return nil
}
