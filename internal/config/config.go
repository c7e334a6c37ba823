package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the application configuration structure
type Config struct {
	Environment string `split_words:"true" default:"dev"`

	// Host configuration. Every base URL is overridable so integration setups can point the
	// client at stand-in servers.
	PortalBaseURL   string `split_words:"true" default:"https://security.microsoft.com"`
	IdentityBaseURL string `split_words:"true" default:"https://login.microsoftonline.com"`
	APIBaseURL      string `split_words:"true" default:"https://api.security.microsoft.com"`
	MTOBaseURL      string `envconfig:"mto_base_url" default:"https://mto.security.microsoft.com"`

	// Tenant & credential material supplied by the operator from their own browser session.
	// RefreshCookie is the long-lived identity provider cookie; SCCAuthCookie/XSRFCookie are the
	// portal's own session cookie pair for the direct bootstrap path.
	TenantID      string `split_words:"true"`
	RefreshCookie string `split_words:"true"`
	SCCAuthCookie string `envconfig:"sccauth_cookie"`
	XSRFCookie    string `envconfig:"xsrf_cookie"`
	UserAgent     string `split_words:"true" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"`

	// Client credentials for the supported api.security.microsoft.com surface
	ClientID     string `split_words:"true"`
	ClientSecret string `split_words:"true"`

	// Snapshot persistence & local snapshot API
	PostgresDSN      string `split_words:"true"`
	APIListenAddress string `split_words:"true" default:"127.0.0.1:8391"`
}

// LoadFromEnv loads a new configuration structure using environment variables and an optional .env file
func LoadFromEnv() (*Config, error) {
	// Load a .env file if it exists
	_ = godotenv.Overload()

	// Load a new configuration structure using environment variables
	config := new(Config)
	if err := envconfig.Process("xdr", config); err != nil {
		return nil, err
	}
	return config, nil
}

// IsEnvProduction returns whether the application runs in a production environment
func (config *Config) IsEnvProduction() bool {
	return config.Environment == "prod" || config.Environment == "production"
}
