package main

import (
	"fmt"
	"net/http"
	"time"

	_ "github.com/franciscosanchezn/gin-oauth2-server/docs" // Import generated docs
	"github.com/franciscosanchezn/gin-oauth2-server/internal/auth"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/config"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/controllers"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/database"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/middleware"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/scope"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title OAuth2 Authorization Server
// @version 1.0
// @description Authorization code and refresh token grants (RFC 6749)
// @host localhost:8080
// @BasePath /
// @securityDefinitions.basic BasicAuth
func main() {
	// Load environment variables
	loadDotenvFile()

	// Initialize logger
	setUpLogger()

	// Load configuration
	configuration := loadConfig()
	applyLogLevel(configuration.LogLevel)

	// Initialize persistence and the protocol engine
	store := setupStorage(configuration)
	server := setupOAuthServer(configuration, store)

	// Initialize Gin router
	router := setupRouter(configuration, server)

	// Start the server
	log.Infof("Starting server on %s:%d", configuration.Host, configuration.Port)
	if err := router.Run(fmt.Sprintf("%v:%d", configuration.Host, configuration.Port)); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

// checkPanicErr checks if an error occurred and panics if it did
func checkPanicErr(err error) {
	if err != nil {
		panic(err)
	}
}

// loadDotenvFile loads environment variables from a .env file
// If the file is not found, it will log a warning and use system environment variables
func loadDotenvFile() {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found, using system environment variables")
	}
}

// setUpLogger initializes the logger with a JSON formatter and sets the log level based on the environment
func setUpLogger() {
	log.SetFormatter(&log.JSONFormatter{})
	environment := config.GetEnvWithDefault("APP_ENV", "development")
	switch environment {
	case "development":
		log.SetLevel(log.DebugLevel)
	case "production":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// applyLogLevel overrides the environment based level when LOG_LEVEL is valid
func applyLogLevel(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("log_level", level).Warn("Ignoring invalid LOG_LEVEL")
		return
	}
	log.SetLevel(parsed)
}

// loadConfig loads the application configuration from environment variables
// It returns a Config struct or panics if there is an error
func loadConfig() *config.Config {
	conf, err := config.LoadConfig()
	checkPanicErr(err)
	return conf
}

// setupStorage opens the configured store. The memory driver keeps
// everything in process and is meant for local experiments.
func setupStorage(conf *config.Config) storage.Store {
	if conf.DBDriver == "memory" {
		log.Warn("Using in-memory storage, all grants and tokens are lost on restart")
		return storage.NewMemoryStore()
	}

	db, err := database.InitDatabase(database.FromConfig(conf))
	checkPanicErr(err)

	store := storage.NewGormStore(db)
	checkPanicErr(store.Migrate())
	return store
}

// setupOAuthServer wires the protocol engine from configuration
func setupOAuthServer(conf *config.Config, store storage.Store) *auth.OAuthServer {
	generator, err := auth.NewGenerator(conf.TokenFormat, conf.JWTSecret)
	checkPanicErr(err)

	server := auth.NewOAuthServer(
		auth.Stores{Clients: store, Grants: store, Tokens: store},
		scope.NewGrammar(conf.Scopes...),
		generator,
		auth.Config{
			Realm:           conf.Realm,
			AccessTokenTTL:  conf.AccessTokenTTL,
			RefreshTokenTTL: conf.RefreshTokenTTL,
			CodeTTL:         conf.CodeTTL,
			LoginURL:        conf.LoginURL,
		},
	)
	server.SetLogger(log.StandardLogger())
	return server
}

// setupRouter initializes the Gin router and sets up the routes
// It returns the configured router
func setupRouter(conf *config.Config, server *auth.OAuthServer) *gin.Engine {
	if conf.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(log.StandardLogger()),
		middleware.SessionAuth([]byte(conf.SessionSecret), conf.SessionCookie),
	)

	setupRoutes(router, controllers.NewOAuthController(server))
	return router
}

// setupRoutes defines the routes for the Gin router
func setupRoutes(router *gin.Engine, oauthController *controllers.OAuthController) {
	// Health check endpoint
	router.GET("/health", healthCheckHandler)

	// OAuth2 endpoints
	oauthController.RegisterRoutes(router.Group("/oauth2"))

	// Swagger documentation
	if config.GetEnvAsType("SWAGGER_ENABLED", true) {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/swagger/index.html")
		})
	}
}

// healthCheckHandler handles the health check endpoint
// @Summary Health check
// @Description Check if the service is running
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "gin-oauth2-server",
	})
}
