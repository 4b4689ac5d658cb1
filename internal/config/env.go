package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into the
// process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overlays SCHOLAR_* environment variables onto cfg. Secrets are expected
// to arrive this way rather than in the YAML file.
func ApplyEnv(cfg *Config) {
	if v := getenv("SCHOLAR_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	setString(&cfg.Server.Host, "SCHOLAR_HOST")
	if v := getenvInt("SCHOLAR_PORT"); v > 0 {
		cfg.Server.Port = v
	}
	setString(&cfg.Storage.DatabasePath, "SCHOLAR_DATABASE_PATH")
	setString(&cfg.Storage.FilesDir, "SCHOLAR_FILES_DIR")
	setString(&cfg.Embedding.Provider, "SCHOLAR_EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.BaseURL, "SCHOLAR_EMBEDDING_URL")
	setString(&cfg.Embedding.Model, "SCHOLAR_EMBEDDING_MODEL")
	setString(&cfg.Embedding.APIKey, "SCHOLAR_EMBEDDING_API_KEY")
	setString(&cfg.LLM.Provider, "SCHOLAR_LLM_PROVIDER")
	setString(&cfg.LLM.BaseURL, "SCHOLAR_LLM_URL")
	setString(&cfg.LLM.Model, "SCHOLAR_LLM_MODEL")
	setString(&cfg.LLM.APIKey, "SCHOLAR_LLM_API_KEY")
	setString(&cfg.Grobid.URL, "SCHOLAR_GROBID_URL")
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getenvInt(key string) int {
	v, err := strconv.Atoi(getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func setString(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}
