package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
)

// Response is a framework-neutral HTTP response produced by the engine.
// A nil Body means no body is written.
type Response struct {
	Status int
	Header http.Header
	Body   interface{}
}

// protocolErrors maps OAuth2 sentinel errors to their HTTP status at this server
var protocolErrors = []struct {
	err    error
	status int
}{
	{oauth2errors.ErrInvalidRequest, http.StatusBadRequest},
	{oauth2errors.ErrInvalidClient, http.StatusUnauthorized},
	{oauth2errors.ErrInvalidGrant, http.StatusBadRequest},
	{oauth2errors.ErrUnsupportedGrantType, http.StatusBadRequest},
	{oauth2errors.ErrInvalidScope, http.StatusBadRequest},
	{oauth2errors.ErrUnsupportedResponseType, http.StatusBadRequest},
}

// protocolError returns the OAuth2 sentinel err wraps, if any
func protocolError(err error) (error, int, bool) {
	for _, candidate := range protocolErrors {
		if errors.Is(err, candidate.err) {
			return candidate.err, candidate.status, true
		}
	}
	return nil, 0, false
}

// errorBody renders the RFC 6749 error body for a sentinel error.
// The description is the library's generic text so distinct causes stay indistinguishable.
func errorBody(sentinel error) models.OAuth2Error {
	return models.NewOAuth2Error(sentinel.Error(), oauth2errors.Descriptions[sentinel])
}

// tokenErrorResponse converts a token endpoint failure into a response.
// Anything outside the OAuth2 vocabulary is a server fault: 500 without a body.
func (s *OAuthServer) tokenErrorResponse(err error) *Response {
	header := noStoreHeaders()

	sentinel, status, ok := protocolError(err)
	if !ok {
		s.log.WithError(err).Error("Token request failed")
		return &Response{Status: http.StatusInternalServerError, Header: header}
	}

	if sentinel == oauth2errors.ErrInvalidClient {
		header.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", s.config.Realm))
	}
	s.log.WithError(err).Debug("Token request rejected")
	return &Response{Status: status, Header: header, Body: errorBody(sentinel)}
}

// directErrorResponse renders an authorization failure that cannot be redirected
func (s *OAuthServer) directErrorResponse(err error) *Response {
	sentinel, _, ok := protocolError(err)
	if !ok {
		s.log.WithError(err).Error("Authorization request failed")
		return &Response{Status: http.StatusInternalServerError, Header: http.Header{}}
	}
	// Front-channel failures are always 400, including an unknown client
	s.log.WithError(err).Debug("Authorization request rejected")
	return &Response{Status: http.StatusBadRequest, Header: http.Header{}, Body: errorBody(sentinel)}
}
