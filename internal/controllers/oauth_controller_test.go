package controllers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/auth"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/middleware"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/scope"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	testClientID    = "test_client"
	testSecret      = "test_secret"
	testRedirectURL = "https://example.com/test?test=true"
	testUserID      = "42"
	testJWTSecret   = "test-jwt-secret-key-32-characters"
	testSessionKey  = "test-session-key-32-characters!!"
	testCookie      = "sessionid"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return setupRouterWithKeys(t, testJWTSecret, testSessionKey)
}

// setupRouterWithKeys signs access tokens with accessKey and checks sessions against sessionKey
func setupRouterWithKeys(t *testing.T, accessKey, sessionKey string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	app := &models.Application{
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Name:         "Test",
		RedirectURL:  testRedirectURL,
	}
	require.NoError(t, app.HashSecret(bcrypt.MinCost))
	require.NoError(t, store.CreateApplication(context.Background(), app))

	server := auth.NewOAuthServer(
		auth.Stores{Clients: store, Grants: store, Tokens: store},
		scope.NewGrammar("subscriptions", "apps:get", "apps:sync", "favorites"),
		auth.NewJWTAccessGenerate([]byte(accessKey), jwt.SigningMethodHS512),
		auth.DefaultConfig(),
	)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	server.SetLogger(quiet)

	router := gin.New()
	router.Use(middleware.SessionAuth([]byte(sessionKey), testCookie))
	NewOAuthController(server).RegisterRoutes(router.Group("/oauth2"))
	return router
}

func sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	value, err := middleware.IssueSessionToken([]byte(testSessionKey), testUserID, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: testCookie, Value: value}
}

func basicAuth(clientID, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(clientID+":"+secret))
}

func authorizeRequest(t *testing.T, router *gin.Engine, params url.Values, loggedIn bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+params.Encode(), nil)
	if loggedIn {
		req.AddCookie(sessionCookie(t))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func tokenRequest(router *gin.Engine, authorization string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// obtainCode runs a logged-in authorization request and returns the issued code
func obtainCode(t *testing.T, router *gin.Engine, scopes string) string {
	t.Helper()
	w := authorizeRequest(t, router, url.Values{
		"client_id":     {testClientID},
		"response_type": {"code"},
		"scope":         {scopes},
		"state":         {"some_state"},
	}, true)
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "example.com", location.Host)
	assert.Equal(t, "/test", location.Path)
	assert.Equal(t, "true", location.Query().Get("test"))
	assert.Equal(t, "some_state", location.Query().Get("state"))

	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	router := setupRouter(t)
	code := obtainCode(t, router, "subscriptions apps:get")

	w := tokenRequest(router, basicAuth(testClientID, testSecret), url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURL},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	body := decodeBody(t, w)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(3600), body["expires_in"])
	assert.Equal(t, "apps:get subscriptions", body["scope"])

	refresh := tokenRequest(router, basicAuth(testClientID, testSecret), url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {body["refresh_token"].(string)},
	})
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())
	refreshed := decodeBody(t, refresh)
	assert.NotEqual(t, body["refresh_token"], refreshed["refresh_token"])
	assert.Equal(t, "apps:get subscriptions", refreshed["scope"])
}

func TestAuthorizeRedirectsToLogin(t *testing.T) {
	router := setupRouter(t)

	w := authorizeRequest(t, router, url.Values{
		"client_id":     {testClientID},
		"response_type": {"code"},
		"scope":         {"subscriptions"},
	}, false)
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login/", location.Path)

	next, err := url.Parse(location.Query().Get("next"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth2/authorize", next.Path)
	assert.Equal(t, testClientID, next.Query().Get("client_id"))
}

func TestAccessTokenIsNotALoginSession(t *testing.T) {
	testCases := []struct {
		name       string
		sessionKey string
	}{
		{name: "separate session key", sessionKey: testSessionKey},
		{name: "session key reused for access tokens", sessionKey: testJWTSecret},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouterWithKeys(t, testJWTSecret, tt.sessionKey)

			cookie := sessionCookie(t)
			session, err := middleware.IssueSessionToken([]byte(tt.sessionKey), testUserID, time.Hour)
			require.NoError(t, err)
			cookie.Value = session

			// Obtain a narrow access token through a real session
			req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+url.Values{
				"client_id":     {testClientID},
				"response_type": {"code"},
				"scope":         {"subscriptions"},
			}.Encode(), nil)
			req.AddCookie(cookie)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			require.Equal(t, http.StatusFound, w.Code)
			location, err := url.Parse(w.Header().Get("Location"))
			require.NoError(t, err)

			exchanged := tokenRequest(router, basicAuth(testClientID, testSecret), url.Values{
				"grant_type":   {"authorization_code"},
				"code":         {location.Query().Get("code")},
				"redirect_uri": {testRedirectURL},
			})
			require.Equal(t, http.StatusOK, exchanged.Code, exchanged.Body.String())
			accessToken := decodeBody(t, exchanged)["access_token"].(string)

			// Replaying it as the session cookie must not authenticate anyone
			req = httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+url.Values{
				"client_id":     {testClientID},
				"response_type": {"code"},
				"scope":         {"subscriptions apps:get apps:sync favorites"},
			}.Encode(), nil)
			req.AddCookie(&http.Cookie{Name: testCookie, Value: accessToken})
			w = httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusFound, w.Code)
			redirected, err := url.Parse(w.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "/login/", redirected.Path)
			assert.Empty(t, redirected.Query().Get("code"))
		})
	}
}

func TestAuthorizeErrors(t *testing.T) {
	router := setupRouter(t)

	t.Run("invalid scope redirects with error", func(t *testing.T) {
		w := authorizeRequest(t, router, url.Values{
			"client_id":     {testClientID},
			"response_type": {"code"},
			"scope":         {"invalid scope"},
			"state":         {"some_state"},
		}, true)
		require.Equal(t, http.StatusFound, w.Code)
		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", location.Query().Get("error"))
		assert.Equal(t, "some_state", location.Query().Get("state"))
	})

	t.Run("unsupported response type redirects with error", func(t *testing.T) {
		w := authorizeRequest(t, router, url.Values{
			"client_id":     {testClientID},
			"response_type": {"magic_response"},
			"scope":         {"subscriptions"},
		}, true)
		require.Equal(t, http.StatusFound, w.Code)
		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "unsupported_response_type", location.Query().Get("error"))
	})

	t.Run("unknown client is answered directly", func(t *testing.T) {
		w := authorizeRequest(t, router, url.Values{
			"client_id":     {"unknown"},
			"response_type": {"code"},
			"scope":         {"subscriptions"},
		}, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
		assert.Equal(t, "invalid_client", decodeBody(t, w)["error"])
	})
}

func TestTokenErrors(t *testing.T) {
	router := setupRouter(t)
	valid := basicAuth(testClientID, testSecret)

	testCases := []struct {
		name          string
		authorization string
		form          url.Values
		status        int
		expected      string
	}{
		{
			name:     "missing client authentication",
			form:     url.Values{"grant_type": {"authorization_code"}, "code": {"abc"}},
			status:   http.StatusUnauthorized,
			expected: "invalid_client",
		},
		{
			name:          "unknown client",
			authorization: basicAuth("unknown", "unknown"),
			form:          url.Values{"grant_type": {"authorization_code"}, "code": {"abc"}},
			status:        http.StatusUnauthorized,
			expected:      "invalid_client",
		},
		{
			name:          "missing grant type",
			authorization: valid,
			form:          url.Values{},
			status:        http.StatusBadRequest,
			expected:      "unsupported_grant_type",
		},
		{
			name:          "unknown grant type",
			authorization: valid,
			form:          url.Values{"grant_type": {"magic"}},
			status:        http.StatusBadRequest,
			expected:      "unsupported_grant_type",
		},
		{
			name:          "missing code",
			authorization: valid,
			form:          url.Values{"grant_type": {"authorization_code"}, "redirect_uri": {testRedirectURL}},
			status:        http.StatusBadRequest,
			expected:      "invalid_request",
		},
		{
			name:          "invalid code",
			authorization: valid,
			form: url.Values{
				"grant_type": {"authorization_code"}, "code": {"some_invalid_code"}, "redirect_uri": {testRedirectURL},
			},
			status:   http.StatusBadRequest,
			expected: "invalid_grant",
		},
		{
			name:          "well-formed unknown code",
			authorization: valid,
			form: url.Values{
				"grant_type":   {"authorization_code"},
				"code":         {strings.ReplaceAll(uuid.NewString(), "-", "")},
				"redirect_uri": {testRedirectURL},
			},
			status:   http.StatusBadRequest,
			expected: "invalid_grant",
		},
		{
			name:          "unknown refresh token",
			authorization: valid,
			form:          url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"nope"}},
			status:        http.StatusBadRequest,
			expected:      "invalid_grant",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			w := tokenRequest(router, tt.authorization, tt.form)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.expected, decodeBody(t, w)["error"])
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="oauth2"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestTokenMalformedBody(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader("grant_type=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", basicAuth(testClientID, testSecret))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, w)["error"])
}

func TestTokenPreflight(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/oauth2/token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Empty(t, w.Body.String())
}

// TestThirdPartyClient drives the endpoints with golang.org/x/oauth2
func TestThirdPartyClient(t *testing.T) {
	srv := httptest.NewServer(setupRouter(t))
	defer srv.Close()

	conf := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RedirectURL:  testRedirectURL,
		Scopes:       []string{"subscriptions", "apps:get"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/oauth2/authorize",
			TokenURL:  srv.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	req, err := http.NewRequest(http.MethodGet, conf.AuthCodeURL("some_state"), nil)
	require.NoError(t, err)
	req.AddCookie(sessionCookie(t))
	browser := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := browser.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "some_state", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	ctx := context.Background()
	token, err := conf.Exchange(ctx, code)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, "apps:get subscriptions", token.Extra("scope"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiry, time.Minute)

	_, err = conf.Exchange(ctx, code)
	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr), "expected RetrieveError, got %v", err)
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)

	refreshed, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
	require.NoError(t, err)
	assert.NotEqual(t, token.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, token.AccessToken, refreshed.AccessToken)

	wrongSecret := *conf
	wrongSecret.ClientSecret = "wrong"
	_, err = wrongSecret.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshed.RefreshToken}).Token()
	require.True(t, errors.As(err, &retrieveErr), "expected RetrieveError, got %v", err)
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
	assert.Equal(t, "invalid_client", retrieveErr.ErrorCode)
}
