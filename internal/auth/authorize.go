package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/scope"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	"github.com/go-oauth2/oauth2/v4"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/sirupsen/logrus"
)

// AuthorizeRequest carries the front-channel parameters of /authorize
type AuthorizeRequest struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string

	// UserID is the authenticated resource owner; empty when there is no session
	UserID string
	// RequestURI is where the login page should send the user back to
	RequestURI string
}

// Authorize validates an authorization request and either issues a code,
// redirects back with an error, sends the user to the login page, or
// answers directly when no trusted redirect target exists.
func (s *OAuthServer) Authorize(ctx context.Context, req AuthorizeRequest) *Response {
	logger := s.log.WithField("client_id", req.ClientID)

	if req.ClientID == "" {
		return s.directErrorResponse(fmt.Errorf("%w: missing client_id", oauth2errors.ErrInvalidClient))
	}
	app, err := s.stores.Clients.FindByClientID(ctx, req.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.directErrorResponse(fmt.Errorf("%w: unknown client", oauth2errors.ErrInvalidClient))
	}
	if err != nil {
		return s.directErrorResponse(fmt.Errorf("load client: %w", err))
	}

	redirectURI := app.RedirectURL
	if req.RedirectURI != "" && req.RedirectURI != app.RedirectURL {
		return s.directErrorResponse(fmt.Errorf("%w: redirect_uri does not match registration", oauth2errors.ErrInvalidRequest))
	}
	if _, err := url.Parse(redirectURI); err != nil || redirectURI == "" {
		return s.directErrorResponse(fmt.Errorf("%w: application has no usable redirect_url", oauth2errors.ErrInvalidRequest))
	}

	if oauth2.ResponseType(req.ResponseType) != oauth2.Code {
		logger.WithField("response_type", req.ResponseType).Debug("Unsupported response type")
		return redirectWithError(redirectURI, oauth2errors.ErrUnsupportedResponseType, req.State)
	}

	scopes, err := s.requestedScopes(app, req.Scope)
	if err != nil {
		logger.WithError(err).Debug("Invalid scope requested")
		return redirectWithError(redirectURI, oauth2errors.ErrInvalidScope, req.State)
	}

	if req.UserID == "" {
		loginURL, err := withQuery(s.config.LoginURL, url.Values{"next": {req.RequestURI}})
		if err != nil {
			return s.directErrorResponse(fmt.Errorf("build login url: %w", err))
		}
		return redirect(loginURL)
	}

	grant := &models.Grant{
		Code:        newAuthorizationCode(),
		ClientID:    app.ClientID,
		UserID:      req.UserID,
		Scopes:      scopes.String(),
		RedirectURI: redirectURI,
		CreatedAt:   s.now(),
	}
	if err := s.stores.Grants.CreateGrant(ctx, grant); err != nil {
		return s.directErrorResponse(fmt.Errorf("persist grant: %w", err))
	}
	logger.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"scope":   grant.Scopes,
		"code":    truncate(grant.Code),
	}).Info("Issued authorization code")

	params := url.Values{"code": {grant.Code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	target, err := withQuery(redirectURI, params)
	if err != nil {
		return s.directErrorResponse(fmt.Errorf("build redirect: %w", err))
	}
	return redirect(target)
}

// requestedScopes parses the scope parameter; an empty set is never acceptable here
func (s *OAuthServer) requestedScopes(app *models.Application, raw string) (scope.Set, error) {
	scopes, err := s.grammar.Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: scope is required", oauth2errors.ErrInvalidScope)
	}
	if allowed := app.Scopes(); len(allowed) > 0 && !scopes.SubsetOf(scope.NewSet(allowed...)) {
		return nil, fmt.Errorf("%w: scope not allowed for application", oauth2errors.ErrInvalidScope)
	}
	return scopes, nil
}

const authorizationCodeBytes = 16

// newAuthorizationCode returns 128 random bits as 32 lowercase hex characters
func newAuthorizationCode() string {
	buf := make([]byte, authorizationCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// validAuthorizationCode reports whether code has the shape newAuthorizationCode produces
func validAuthorizationCode(code string) bool {
	if len(code) != 2*authorizationCodeBytes || strings.ToLower(code) != code {
		return false
	}
	_, err := hex.DecodeString(code)
	return err == nil
}

func redirectWithError(target string, sentinel error, state string) *Response {
	params := url.Values{"error": {sentinel.Error()}}
	if state != "" {
		params.Set("state", state)
	}
	location, err := withQuery(target, params)
	if err != nil {
		// target was validated before any redirect is attempted
		location = target
	}
	return redirect(location)
}

func redirect(location string) *Response {
	header := http.Header{}
	header.Set("Location", location)
	return &Response{Status: http.StatusFound, Header: header}
}

// withQuery appends params to base while keeping the query it already has
func withQuery(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := u.Query()
	for key, values := range params {
		query[key] = values
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
