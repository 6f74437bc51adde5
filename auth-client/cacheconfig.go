package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// cacheconfig remembers who logged in last so the prompt can offer it again.
// Nothing about the session itself is kept.
type cacheconfig struct {
	Username string `json:"username"`
}

func cachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "form-login", "last_login.json"), nil
}

func getCachedConfig() *cacheconfig {
	path, err := cachePath()
	if err != nil {
		log.Debug().Err(err).Msg("No config directory")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// probably just that the file doesn't exist, so don't bother logging
		return nil
	}

	var cfg cacheconfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ignoring corrupt cache file")
		return nil
	}
	return &cfg
}

func setCachedConfig(cfg *cacheconfig) {
	path, err := cachePath()
	if err != nil {
		log.Debug().Err(err).Msg("No config directory")
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Warn().Err(err).Msg("Error creating cache directory")
		return
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Error marshalling cache to JSON")
		return
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Warn().Err(err).Msg("Error writing cache file")
	}
}
