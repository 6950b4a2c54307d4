package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/casevault/importer/internal/core"
)

// cliConfig is what importctl needs to run: a database for apply mode and
// the suggestion threshold. Everything else comes from flags.
type cliConfig struct {
	DatabaseURL         string
	SimilarityThreshold float64
}

// loadCLIConfig reads importctl.yaml from the working directory or
// ~/.config/casevault, with IMPORTCTL_* environment overrides. Missing
// config is fine; apply mode complains later if no database is reachable.
func loadCLIConfig() cliConfig {
	cfg := cliConfig{
		SimilarityThreshold: core.SimilarityThreshold,
	}

	v := viper.New()
	v.SetConfigName("importctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/casevault")
	v.AutomaticEnv()
	v.SetEnvPrefix("IMPORTCTL")

	v.BindEnv("database.url")
	v.BindEnv("mapping.similarity_threshold")

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "loaded", v.ConfigFileUsed())
	}

	if v.IsSet("database.url") {
		cfg.DatabaseURL = v.GetString("database.url")
	}
	if v.IsSet("mapping.similarity_threshold") {
		cfg.SimilarityThreshold = v.GetFloat64("mapping.similarity_threshold")
	}

	// Fall back to the server's variable so one .env works for both
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg
}
