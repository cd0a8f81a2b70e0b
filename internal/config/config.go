package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Create a new instance of the logger
// Configure it to log at the desired level
// and format it as JSON for structured logging
var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	environment := GetEnvWithDefault("APP_ENV", "development")
	switch environment {
	case "development":
		log.SetLevel(logrus.DebugLevel)
	case "production":
		log.SetLevel(logrus.ErrorLevel)
	default:
		// Default to info level for other environments
		log.SetLevel(logrus.InfoLevel)
	}
}

// DefaultScopes is the scope allow-list used when OAUTH_SCOPES is not set
const DefaultScopes = "subscriptions apps:get apps:sync actions:get actions:add favorites suggestions settings"

// Config used for the application configuration, loading the input from environment variables
type Config struct {
	// Server Configuration
	Environment string `json:"environment"`
	Port        int    `json:"port"`
	Host        string `json:"host"`

	// Database configuration
	DBDriver   string `json:"db_driver"`
	DBPath     string `json:"db_path"`
	DBHost     string `json:"db_host"`
	DBPort     string `json:"db_port"`
	DBName     string `json:"db_name"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBSSLMode  string `json:"db_sslmode"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Security Configuration
	JWTSecret     string `json:"jwt_secret"`     // access token signing key
	SessionSecret string `json:"session_secret"` // login session signing key, never equal to JWTSecret

	// OAuth2 protocol policy
	Realm           string        `json:"realm"`
	Scopes          []string      `json:"scopes"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	CodeTTL         time.Duration `json:"code_ttl"`
	TokenFormat     string        `json:"token_format"`

	// Login subsystem boundary
	LoginURL      string `json:"login_url"`
	SessionCookie string `json:"session_cookie"`
}

// String returns a string representation of Config with sensitive data masked
func (c *Config) String() string {
	return fmt.Sprintf("Config{Environment: %s, Port: %d, Host: %s, DBDriver: %s, DBPath: %s, DBHost: %s, DBPort: %s, DBName: %s, DBUser: %s, DBPassword: [REDACTED], LogLevel: %s, JWTSecret: [REDACTED], SessionSecret: [REDACTED], Realm: %s, Scopes: %v, AccessTokenTTL: %s, RefreshTokenTTL: %s, CodeTTL: %s, TokenFormat: %s, LoginURL: %s, SessionCookie: %s}",
		c.Environment, c.Port, c.Host, c.DBDriver, c.DBPath, c.DBHost, c.DBPort, c.DBName, c.DBUser, c.LogLevel,
		c.Realm, c.Scopes, c.AccessTokenTTL, c.RefreshTokenTTL, c.CodeTTL, c.TokenFormat, c.LoginURL, c.SessionCookie)
}

// LoadConfig read the proper configuration from environment variables and returns a Config struct
// Returns an error if any variable is present but invalid
func LoadConfig() (*Config, error) {
	log.Info("Loading configuration from environment variables")
	port, err := strconv.Atoi(GetEnvWithDefault("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	accessTTL, err := getDuration("OAUTH_ACCESS_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := getDuration("OAUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	codeTTL, err := getDuration("OAUTH_CODE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	loginURL := GetEnvWithDefault("LOGIN_URL", "/login/")
	if _, err := url.Parse(loginURL); err != nil {
		return nil, fmt.Errorf("invalid LOGIN_URL: %w", err)
	}

	scopes := strings.Fields(GetEnvWithDefault("OAUTH_SCOPES", DefaultScopes))
	if len(scopes) == 0 {
		return nil, fmt.Errorf("OAUTH_SCOPES must list at least one scope")
	}

	jwtSecret := GetEnvWithDefault("JWT_SECRET", "secret")
	sessionSecret := GetEnvWithDefault("SESSION_SECRET", "session-secret")
	if sessionSecret == jwtSecret {
		return nil, fmt.Errorf("SESSION_SECRET must differ from JWT_SECRET")
	}

	config := &Config{
		Environment:     GetEnvWithDefault("APP_ENV", "development"),
		Port:            port,
		Host:            GetEnvWithDefault("APP_HOST", "localhost"),
		DBDriver:        GetEnvWithDefault("DB_DRIVER", "sqlite"),
		DBPath:          GetEnvWithDefault("DB_PATH", "oauth.sqlite"),
		DBHost:          GetEnvWithDefault("DB_HOST", "localhost"),
		DBPort:          GetEnvWithDefault("DB_PORT", "5432"),
		DBName:          GetEnvWithDefault("DB_NAME", "oauth"),
		DBUser:          GetEnvWithDefault("DB_USER", "user"),
		DBPassword:      GetEnvWithDefault("DB_PASSWORD", "password"),
		DBSSLMode:       GetEnvWithDefault("DB_SSLMODE", "disable"),
		LogLevel:        GetEnvWithDefault("LOG_LEVEL", "info"),
		JWTSecret:       jwtSecret,
		SessionSecret:   sessionSecret,
		Realm:           GetEnvWithDefault("OAUTH_REALM", "oauth2"),
		Scopes:          scopes,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
		CodeTTL:         codeTTL,
		TokenFormat:     GetEnvWithDefault("OAUTH_TOKEN_FORMAT", "jwt"),
		LoginURL:        loginURL,
		SessionCookie:   GetEnvWithDefault("SESSION_COOKIE", "sessionid"),
	}
	log.Infof("Configuration loaded: %s", config.String())
	return config, nil
}

// getDuration parses a duration variable, rejecting malformed or non-positive values
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return value, nil
}

// Helper to get environment with default values
func GetEnvWithDefault(key, defaultValue string) string {
	log.Tracef("Getting environment variable: %s", key)
	value := os.Getenv(key)
	if value == "" {
		log.Debugf("Environment variable %s not set, using default value", key)
		return defaultValue
	}
	return value
}

// GetEnvAsType retrieves an environment variable and converts it to the specified type
// using generic type handling.
func GetEnvAsType[T any](key string, defaultValue T) T {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result T
	switch any(result).(type) {
	case int:
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return any(intValue).(T)
	case string:
		return any(value).(T)
	case bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return any(boolValue).(T)
	case time.Duration:
		durationValue, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return any(durationValue).(T)
	default:
		return defaultValue // Fallback for unsupported types
	}
}
