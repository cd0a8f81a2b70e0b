package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/go-oauth2/oauth2/v4"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
)

// TokenRequest carries the back-channel input of /token
type TokenRequest struct {
	// Authorization is the raw Authorization header
	Authorization string
	// Form is the decoded application/x-www-form-urlencoded body
	Form url.Values
}

// Token authenticates the client and redeems the grant named by grant_type
func (s *OAuthServer) Token(ctx context.Context, req TokenRequest) *Response {
	app, err := s.authenticator.Authenticate(ctx, req.Authorization)
	if err != nil {
		return s.tokenErrorResponse(err)
	}

	grantType := oauth2.GrantType(req.Form.Get("grant_type"))
	handler, ok := s.handlers[grantType]
	if !ok {
		return s.tokenErrorResponse(fmt.Errorf("%w: %q", oauth2errors.ErrUnsupportedGrantType, grantType))
	}

	token, err := handler.Redeem(ctx, app, req.Form)
	if err != nil {
		return s.tokenErrorResponse(err)
	}

	header := noStoreHeaders()
	return &Response{
		Status: http.StatusOK,
		Header: header,
		Body: models.TokenResponse{
			AccessToken:  token.AccessToken,
			TokenType:    token.TokenType,
			ExpiresIn:    token.ExpiresIn,
			RefreshToken: token.RefreshToken,
			Scope:        token.Scopes,
		},
	}
}

// MalformedRequest answers a token request whose body could not be decoded
func (s *OAuthServer) MalformedRequest(err error) *Response {
	return s.tokenErrorResponse(fmt.Errorf("%w: %v", oauth2errors.ErrInvalidRequest, err))
}

// Preflight answers the CORS preflight of the token endpoint without authentication
func (s *OAuthServer) Preflight() *Response {
	header := http.Header{}
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	return &Response{Status: http.StatusOK, Header: header}
}
