package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/scope"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/generates"
	oauth2models "github.com/go-oauth2/oauth2/v4/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const tokenTypeBearer = "Bearer"

// Config holds protocol policy values
type Config struct {
	// Realm is sent in the WWW-Authenticate header of invalid_client responses
	Realm string
	// AccessTokenTTL is reported as expires_in
	AccessTokenTTL time.Duration
	// RefreshTokenTTL bounds how long a refresh token can be redeemed
	RefreshTokenTTL time.Duration
	// CodeTTL bounds how long an authorization code can be redeemed
	CodeTTL time.Duration
	// LoginURL receives unauthenticated resource owners with a next parameter
	LoginURL string
}

// DefaultConfig returns the policy used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Realm:           "oauth2",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		CodeTTL:         10 * time.Minute,
		LoginURL:        "/login/",
	}
}

// Stores groups the persistence collaborators of the engine
type Stores struct {
	Clients storage.ClientStore
	Grants  storage.GrantStore
	Tokens  storage.TokenStore
}

// GrantHandler redeems one grant_type at the token endpoint
type GrantHandler interface {
	Redeem(ctx context.Context, app *models.Application, form url.Values) (*models.Token, error)
}

// OAuthServer is the authorization and token endpoint engine.
// It is safe for concurrent use; all shared state lives in the stores.
type OAuthServer struct {
	stores        Stores
	grammar       *scope.Grammar
	authenticator *ClientAuthenticator
	generator     oauth2.AccessGenerate
	handlers      map[oauth2.GrantType]GrantHandler
	config        Config
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewOAuthServer wires the engine. A nil generator selects opaque access tokens.
func NewOAuthServer(stores Stores, grammar *scope.Grammar, generator oauth2.AccessGenerate, cfg Config) *OAuthServer {
	if generator == nil {
		generator = generates.NewAccessGenerate()
	}
	s := &OAuthServer{
		stores:        stores,
		grammar:       grammar,
		authenticator: NewClientAuthenticator(stores.Clients),
		generator:     generator,
		config:        cfg,
		log:           logrus.StandardLogger(),
		now:           time.Now,
	}
	s.handlers = map[oauth2.GrantType]GrantHandler{
		oauth2.AuthorizationCode: &authorizationCodeGrant{server: s},
		oauth2.Refreshing:        &refreshTokenGrant{server: s},
	}
	return s
}

// NewGenerator returns the access token generator for the configured format
func NewGenerator(format string, jwtSecret string) (oauth2.AccessGenerate, error) {
	switch format {
	case "jwt", "":
		return NewJWTAccessGenerate([]byte(jwtSecret), jwt.SigningMethodHS512), nil
	case "opaque":
		return generates.NewAccessGenerate(), nil
	default:
		return nil, fmt.Errorf("unsupported token format: %s (supported: jwt, opaque)", format)
	}
}

// SetLogger replaces the default logrus standard logger
func (s *OAuthServer) SetLogger(logger logrus.FieldLogger) {
	s.log = logger
}

// Grammar exposes the scope grammar in use
func (s *OAuthServer) Grammar() *scope.Grammar {
	return s.grammar
}

// issueToken generates and persists a new access/refresh pair
func (s *OAuthServer) issueToken(ctx context.Context, app *models.Application, userID string, scopes scope.Set) (*models.Token, error) {
	token, err := s.mintToken(ctx, app, userID, scopes)
	if err != nil {
		return nil, err
	}
	if err := s.stores.Tokens.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	s.logIssued(token)
	return token, nil
}

// mintToken generates a new access/refresh pair without persisting it
func (s *OAuthServer) mintToken(ctx context.Context, app *models.Application, userID string, scopes scope.Set) (*models.Token, error) {
	now := s.now()

	info := oauth2models.NewToken()
	info.SetClientID(app.ClientID)
	info.SetUserID(userID)
	info.SetScope(scopes.String())
	info.SetAccessCreateAt(now)
	info.SetAccessExpiresIn(s.config.AccessTokenTTL)
	info.SetRefreshCreateAt(now)
	info.SetRefreshExpiresIn(s.config.RefreshTokenTTL)

	access, refresh, err := s.generator.Token(ctx, &oauth2.GenerateBasic{
		Client:    app,
		UserID:    userID,
		CreateAt:  now,
		TokenInfo: info,
	}, true)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &models.Token{
		ClientID:     app.ClientID,
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		Scopes:       scopes.String(),
		ExpiresIn:    int64(s.config.AccessTokenTTL / time.Second),
		IssuedAt:     now,
	}, nil
}

func (s *OAuthServer) logIssued(token *models.Token) {
	s.log.WithFields(logrus.Fields{
		"client_id": token.ClientID,
		"user_id":   token.UserID,
		"scope":     token.Scopes,
		"token":     truncate(token.AccessToken),
	}).Info("Issued access token")
}

// noStoreHeaders returns the headers mandated on every token endpoint response
func noStoreHeaders() http.Header {
	header := http.Header{}
	header.Set("Cache-Control", "no-store")
	header.Set("Pragma", "no-cache")
	header.Set("Access-Control-Allow-Origin", "*")
	return header
}

// truncate keeps a short prefix of a credential for log correlation
func truncate(credential string) string {
	const keep = 8
	if len(credential) <= keep {
		return credential
	}
	return credential[:keep] + "..."
}
