package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/scope"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/sirupsen/logrus"
)

// authorizationCodeGrant exchanges a single-use code (RFC 6749 section 4.1.3)
type authorizationCodeGrant struct {
	server *OAuthServer
}

func (g *authorizationCodeGrant) Redeem(ctx context.Context, app *models.Application, form url.Values) (*models.Token, error) {
	code := form.Get("code")
	redirectURI := form.Get("redirect_uri")
	if code == "" || redirectURI == "" {
		return nil, fmt.Errorf("%w: code and redirect_uri are required", oauth2errors.ErrInvalidRequest)
	}

	// Malformed, unknown, consumed, expired and mismatched codes all look the same
	invalid := fmt.Errorf("%w: authorization code is invalid", oauth2errors.ErrInvalidGrant)

	if !validAuthorizationCode(code) {
		return nil, invalid
	}

	grant, err := g.server.stores.Grants.ConsumeIfUnused(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("consume grant: %w", err)
	}

	logger := g.server.log.WithFields(logrus.Fields{
		"client_id": app.ClientID,
		"code":      truncate(code),
	})
	switch {
	case grant.ClientID != app.ClientID:
		logger.Warn("Authorization code presented by another client")
		return nil, invalid
	case grant.RedirectURI != redirectURI:
		logger.Debug("Authorization code redirect_uri mismatch")
		return nil, invalid
	case grant.Expired(g.server.config.CodeTTL, g.server.now()):
		logger.Debug("Authorization code expired")
		return nil, invalid
	}

	return g.server.issueToken(ctx, app, grant.UserID, scope.NewSet(grant.ScopeList()...))
}

// refreshTokenGrant rotates a refresh token (RFC 6749 section 6).
// The new pair is generated first and swapped in for the presented one in a
// single store operation; the scope can be narrowed but never widened.
type refreshTokenGrant struct {
	server *OAuthServer
}

func (g *refreshTokenGrant) Redeem(ctx context.Context, app *models.Application, form url.Values) (*models.Token, error) {
	refreshToken := form.Get("refresh_token")
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", oauth2errors.ErrInvalidRequest)
	}

	invalid := fmt.Errorf("%w: refresh token is invalid", oauth2errors.ErrInvalidGrant)

	previous, err := g.server.stores.Tokens.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if previous.ClientID != app.ClientID || previous.RefreshExpired(g.server.config.RefreshTokenTTL, g.server.now()) {
		return nil, invalid
	}

	original := scope.NewSet(previous.ScopeList()...)
	granted := original
	if raw := form.Get("scope"); raw != "" {
		requested, err := g.server.grammar.Parse(raw)
		if err != nil {
			return nil, err
		}
		if !requested.SubsetOf(original) {
			return nil, fmt.Errorf("%w: scope exceeds the original grant", oauth2errors.ErrInvalidScope)
		}
		granted = requested
	}

	next, err := g.server.mintToken(ctx, app, previous.UserID, granted)
	if err != nil {
		return nil, err
	}

	// Losing this race means another request already rotated the token
	if err := g.server.stores.Tokens.Rotate(ctx, refreshToken, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	g.server.logIssued(next)
	return next, nil
}
