package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/londonhackspace/form-login/common/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()
	srv := &server{
		uploadDir: cfg.UploadFolder,
		staticDir: cfg.StaticDir,
	}

	if len(cfg.RedisServer) > 0 {
		redisConn := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisServer,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		})
		defer redisConn.Close()

		if err := redisConn.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisServer).Msg("Cannot reach redis")
		}
		srv.sessions = auth.CreateRedisSessionStore(redisConn, cfg.TokenTTL)
		log.Info().Str("addr", cfg.RedisServer).Msg("Using redis session store")
	} else {
		srv.sessions = auth.CreateJWTSessionStore(cfg.JWTSecret, cfg.TokenTTL)
		log.Info().Msg("Using JWT session tokens")
	}

	// uploads are always recorded in the local database, whichever backend
	// checks passwords
	db, err := auth.OpenSQLiteAuth(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Cannot open database")
	}
	defer db.Close()
	srv.files = db

	switch cfg.Backend {
	case "ldap":
		if cfg.LDAP.LdapSkipTLSVerify {
			log.Warn().Msg("LDAP TLS Verification Skipped")
		}
		ldap := auth.CreateLDAPAuth(cfg.LDAP)
		srv.authenticator = ldap
		srv.registrar = ldap
	default:
		srv.authenticator = db
		srv.registrar = db
	}

	if err := os.MkdirAll(cfg.UploadFolder, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Cannot create upload folder")
	}

	log.Info().Str("backend", cfg.Backend).Msg("Listening on " + cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
