package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/londonhackspace/form-login/common/auth"
)

type config struct {
	ListenAddr   string
	Backend      string
	DatabasePath string
	UploadFolder string
	StaticDir    string
	JWTSecret    string
	TokenTTL     time.Duration
	RedisServer  string
	LogLevel     string
	LDAP         auth.LDAPConfig
}

func getenvDefault(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok && len(v) > 0 {
		return v
	}
	return def
}

// loadConfig reads the environment, after merging in a .env file if there is
// one. Variables already set win over the file.
func loadConfig() (*config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &config{
		ListenAddr:   getenvDefault("LISTEN_ADDR", "127.0.0.1:5000"),
		Backend:      getenvDefault("AUTH_BACKEND", "sqlite"),
		DatabasePath: getenvDefault("DATABASE_PATH", "database.db"),
		UploadFolder: getenvDefault("UPLOAD_FOLDER", "uploads"),
		StaticDir:    os.Getenv("STATIC_DIR"),
		JWTSecret:    os.Getenv("JWT_SECRET_KEY"),
		RedisServer:  os.Getenv("REDIS_SERVER"),
		LogLevel:     getenvDefault("LOG_LEVEL", "info"),
		LDAP: auth.LDAPConfig{
			BindDN:            os.Getenv("LDAP_BINDDN"),
			BindPW:            os.Getenv("LDAP_BINDPW"),
			Server:            os.Getenv("LDAP_SERVER"),
			UserOU:            os.Getenv("LDAP_USEROU"),
			GroupOU:           os.Getenv("LDAP_GROUPOU"),
			BaseDN:            os.Getenv("LDAP_BASEDN"),
			LdapSkipTLSVerify: os.Getenv("LDAP_SKIPTLSVERIFY") == "yes",
		}.WithDefaults(),
	}

	ttl, err := time.ParseDuration(getenvDefault("TOKEN_TTL", auth.DefaultTokenTTL.String()))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_TTL: %w", err)
	}
	cfg.TokenTTL = ttl

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch c.Backend {
	case "sqlite":
	case "ldap":
		if len(c.LDAP.Server) == 0 {
			return fmt.Errorf("AUTH_BACKEND=ldap needs LDAP_SERVER")
		}
	default:
		return fmt.Errorf("unknown AUTH_BACKEND %q", c.Backend)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}

	if len(c.RedisServer) == 0 && len(c.JWTSecret) == 0 {
		return fmt.Errorf("either REDIS_SERVER or JWT_SECRET_KEY must be set")
	}
	return nil
}
