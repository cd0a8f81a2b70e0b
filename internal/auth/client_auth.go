package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ClientAuthenticator validates HTTP Basic client credentials against the client store
type ClientAuthenticator struct {
	clients storage.ClientStore
	// decoy absorbs the bcrypt comparison for unknown client ids so both
	// failure paths cost the same
	decoy *models.Application
}

// NewClientAuthenticator creates an authenticator over clients
func NewClientAuthenticator(clients storage.ClientStore) *ClientAuthenticator {
	hashed, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("cannot hash decoy secret: %v", err))
	}
	return &ClientAuthenticator{
		clients: clients,
		decoy:   &models.Application{ClientSecret: string(hashed)},
	}
}

// Authenticate resolves the application identified by an Authorization header.
// Every credential problem wraps oauth2errors.ErrInvalidClient; any other error is a store failure.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, authorization string) (*models.Application, error) {
	clientID, secret, ok := parseBasicAuth(authorization)
	if !ok {
		return nil, fmt.Errorf("%w: missing or malformed basic credentials", oauth2errors.ErrInvalidClient)
	}

	app, err := a.clients.FindByClientID(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		a.decoy.VerifyPassword(secret)
		return nil, fmt.Errorf("%w: unknown client", oauth2errors.ErrInvalidClient)
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	if !app.VerifyPassword(secret) {
		return nil, fmt.Errorf("%w: secret mismatch", oauth2errors.ErrInvalidClient)
	}
	return app, nil
}

// parseBasicAuth decodes "Basic base64(id:secret)" where both parts are form-urlencoded
func parseBasicAuth(authorization string) (clientID, secret string, ok bool) {
	const prefix = "Basic "
	if len(authorization) < len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(authorization[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	rawID, rawSecret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	if clientID, err = url.QueryUnescape(rawID); err != nil || clientID == "" {
		return "", "", false
	}
	if secret, err = url.QueryUnescape(rawSecret); err != nil {
		return "", "", false
	}
	return clientID, secret, true
}
