package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// UserIDKey is the gin context key holding the authenticated resource owner
const UserIDKey = "userID"

// sessionTokenType marks login sessions; access tokens never carry a typ claim
const sessionTokenType = "session"

// sessionClaims are the claims of a login session token
type sessionClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// SessionAuth resolves the resource owner from the login session cookie.
// The cookie carries an HS256 JWT with typ "session" whose "sub" claim is the
// user id. secret must not be the key access tokens are signed with. A missing
// or invalid session leaves the request anonymous; endpoints decide how to
// react to that, so this middleware never aborts.
func SessionAuth(secret []byte, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(cookieName)
		if err != nil || raw == "" {
			c.Next()
			return
		}

		userID, err := parseSessionToken(raw, secret)
		if err != nil {
			logrus.WithError(err).Debug("Ignoring invalid session cookie")
			c.Next()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// IssueSessionToken signs a session token for userID, valid for ttl
func IssueSessionToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("session subject is required")
	}
	now := time.Now()
	claims := sessionClaims{
		Type: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseSessionToken validates the token and returns its subject
func parseSessionToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		// Validate the signing method to prevent algorithm confusion attacks
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("session parsing failed: %w", err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("session is invalid")
	}
	if claims.Type != sessionTokenType {
		return "", fmt.Errorf("token is not a session, typ=%q", claims.Type)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("session missing required 'sub' claim")
	}
	return claims.Subject, nil
}

// RequestLogger logs one structured line per request. Query strings are left
// out since they carry authorization codes and state.
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}
