package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/franciscosanchezn/gin-oauth2-server/internal/config"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/database"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/models"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/scope"
	"github.com/franciscosanchezn/gin-oauth2-server/internal/storage"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type clientOptions struct {
	Name        string
	RedirectURL string
	WebsiteURL  string
	Scopes      string
}

func main() {
	// Parse command line flags
	name := flag.String("name", "Development Client", "Application name")
	redirectURL := flag.String("redirect-url", "http://localhost:3000/callback", "Registered redirect URL")
	websiteURL := flag.String("website", "http://localhost:3000", "Application website")
	scopes := flag.String("scopes", "", "Space separated scopes the application may request (empty allows all)")
	flag.Parse()

	_ = godotenv.Load()
	conf, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if conf.DBDriver == "memory" {
		log.Fatal("DB_DRIVER=memory has nothing to register into, pick sqlite, postgres or mysql")
	}

	db, err := database.InitDatabase(database.FromConfig(conf))
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	store := storage.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	app, secret, err := registerApplication(context.Background(), store, scope.NewGrammar(conf.Scopes...), clientOptions{
		Name:        *name,
		RedirectURL: *redirectURL,
		WebsiteURL:  *websiteURL,
		Scopes:      *scopes,
	}, bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("Failed to create client:", err)
	}

	fmt.Printf("✓ OAuth2 application '%s' registered!\n", app.Name)
	fmt.Printf("Client ID: %s\n", app.ClientID)
	fmt.Printf("Client Secret: %s\n", secret)
	fmt.Printf("Redirect URL: %s\n", app.RedirectURL)
	fmt.Println("\nThe secret is stored hashed and will not be shown again.")
	fmt.Println("\nStart the flow in a logged-in browser:")
	fmt.Printf("http://%s:%d/oauth2/authorize?client_id=%s&response_type=code&scope=%s&state=xyz\n",
		conf.Host, conf.Port, app.ClientID, url.QueryEscape(strings.Join(conf.Scopes[:1], " ")))
	fmt.Println("\nThen exchange the code:")
	fmt.Printf("curl -X POST http://%s:%d/oauth2/token \\\n", conf.Host, conf.Port)
	fmt.Printf("  -u '%s:%s' \\\n", app.ClientID, secret)
	fmt.Printf("  -d 'grant_type=authorization_code' \\\n")
	fmt.Printf("  -d 'code=<code>' \\\n")
	fmt.Printf("  --data-urlencode 'redirect_uri=%s'\n", app.RedirectURL)
}

// registerApplication validates opts, generates credentials and stores the application.
// The plain secret is returned once; only its hash is persisted.
func registerApplication(ctx context.Context, registry storage.ClientRegistry, grammar *scope.Grammar, opts clientOptions, cost int) (*models.Application, string, error) {
	redirect, err := url.Parse(opts.RedirectURL)
	if err != nil || !redirect.IsAbs() {
		return nil, "", fmt.Errorf("redirect url must be absolute: %q", opts.RedirectURL)
	}
	if redirect.Fragment != "" {
		return nil, "", fmt.Errorf("redirect url must not carry a fragment: %q", opts.RedirectURL)
	}

	allowed, err := grammar.Parse(opts.Scopes)
	if err != nil {
		return nil, "", err
	}

	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	app := &models.Application{
		ClientID:      uuid.NewString(),
		ClientSecret:  secret,
		Name:          opts.Name,
		RedirectURL:   opts.RedirectURL,
		WebsiteURL:    opts.WebsiteURL,
		AllowedScopes: allowed.String(),
	}
	if err := app.HashSecret(cost); err != nil {
		return nil, "", err
	}
	if err := registry.CreateApplication(ctx, app); err != nil {
		return nil, "", err
	}
	return app, secret, nil
}
