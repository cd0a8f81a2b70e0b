package controllers

import (
	"github.com/franciscosanchezn/gin-oauth2-server/internal/auth"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/middleware"
	"github.com/gin-gonic/gin"
)

// OAuthController exposes the authorization and token endpoints over gin
type OAuthController struct {
	server *auth.OAuthServer
}

// NewOAuthController creates a new instance of OAuthController
func NewOAuthController(server *auth.OAuthServer) *OAuthController {
	return &OAuthController{server: server}
}

// RegisterRoutes mounts the endpoints on router, typically the /oauth2 group
func (oc *OAuthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/authorize", oc.Authorize)
	router.POST("/token", oc.Token)
	router.OPTIONS("/token", oc.TokenPreflight)
}

// Authorize godoc
// @Summary Authorization endpoint
// @Description Starts the authorization code flow. Redirects to the client's redirect_url with a code, or with an error when the request can be redirected safely.
// @Tags OAuth2
// @Produce json
// @Param client_id query string true "Client identifier"
// @Param response_type query string true "Must be code"
// @Param scope query string true "Space separated scopes"
// @Param state query string false "Opaque value echoed back to the client"
// @Param redirect_uri query string false "Must equal the registered redirect_url"
// @Success 302 "Redirect to the client or to the login page"
// @Failure 400 {object} models.OAuth2Error "Unknown client or untrusted redirect_uri"
// @Router /oauth2/authorize [get]
func (oc *OAuthController) Authorize(c *gin.Context) {
	resp := oc.server.Authorize(c.Request.Context(), auth.AuthorizeRequest{
		ClientID:     c.Query("client_id"),
		ResponseType: c.Query("response_type"),
		RedirectURI:  c.Query("redirect_uri"),
		Scope:        c.Query("scope"),
		State:        c.Query("state"),
		UserID:       c.GetString(middleware.UserIDKey),
		RequestURI:   c.Request.URL.RequestURI(),
	})
	writeResponse(c, resp)
}

// Token godoc
// @Summary Token endpoint
// @Description Redeems an authorization code or a refresh token. Clients authenticate with HTTP Basic.
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "authorization_code or refresh_token"
// @Param code formData string false "Authorization code"
// @Param redirect_uri formData string false "Redirect URI used at the authorization endpoint"
// @Param refresh_token formData string false "Refresh token"
// @Param scope formData string false "Narrower scope on refresh"
// @Success 200 {object} models.TokenResponse
// @Failure 400 {object} models.OAuth2Error
// @Failure 401 {object} models.OAuth2Error
// @Failure 500 "Server fault"
// @Security BasicAuth
// @Router /oauth2/token [post]
func (oc *OAuthController) Token(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		writeResponse(c, oc.server.MalformedRequest(err))
		return
	}
	resp := oc.server.Token(c.Request.Context(), auth.TokenRequest{
		Authorization: c.GetHeader("Authorization"),
		Form:          c.Request.PostForm,
	})
	writeResponse(c, resp)
}

// TokenPreflight godoc
// @Summary Token endpoint CORS preflight
// @Tags OAuth2
// @Success 200 "CORS headers"
// @Router /oauth2/token [options]
func (oc *OAuthController) TokenPreflight(c *gin.Context) {
	writeResponse(c, oc.server.Preflight())
}

// writeResponse copies an engine response onto the gin context
func writeResponse(c *gin.Context, resp *auth.Response) {
	for key, values := range resp.Header {
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
	if resp.Body == nil {
		c.Status(resp.Status)
		c.Writer.WriteHeaderNow()
		return
	}
	c.JSON(resp.Status, resp.Body)
}
