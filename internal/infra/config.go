package infra

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// FixedBaseURL is the API origin all provider calls go through. The origin is
// not user-configurable; only tests point clients elsewhere.
const FixedBaseURL = "https://www.mxhdai.top"

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv          string
	APIKey          string
	StoragePath     string
	LibraryPath     string
	CredentialsPath string
	ListenAddr      string
	RequestTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. The API key may be absent here; the credential store
// is consulted as a fallback by the cmds.
func LoadConfig() (*Config, error) {
	dataDir := getEnv("VIVAGEN_DATA_DIR", defaultDataDir())
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		APIKey:          os.Getenv("VIVAGEN_API_KEY"),
		StoragePath:     getEnv("VIVAGEN_STORAGE_PATH", filepath.Join(dataDir, "assets")),
		LibraryPath:     getEnv("VIVAGEN_LIBRARY_PATH", filepath.Join(dataDir, "library.json")),
		CredentialsPath: getEnv("VIVAGEN_CREDENTIALS_PATH", filepath.Join(dataDir, "credentials.json")),
		ListenAddr:      getEnv("VIVAGEN_LISTEN_ADDR", "127.0.0.1:8790"),
		RequestTimeout:  time.Second * time.Duration(getEnvInt("VIVAGEN_REQUEST_TIMEOUT_SECONDS", 120)),
	}
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vivagen"
	}
	return filepath.Join(home, ".vivagen")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
