package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelvins/geocoder"
)

// AppConfig holds all startup configuration. Options are read once at
// startup and are not runtime-mutable.
type AppConfig struct {
	// Credential for the external map surface.
	MapAPIKey string

	// Default view center and zoom when no dataset is loaded.
	CenterLat   float64
	CenterLng   float64
	DefaultZoom int

	// Base URL of the map surface service and the bound on its one-time
	// bootstrap.
	SurfaceBaseURL   string
	BootstrapTimeout time.Duration

	// Shared timeout for outbound surface calls.
	HTTPTimeout time.Duration

	// Optional dataset file to load at startup and poll for changes.
	DatasetPath     string
	RefreshInterval time.Duration

	// Retained upload reports (0 = unlimited).
	UploadHistoryLimit int

	Port string
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.MapAPIKey = os.Getenv("MAP_API_KEY")
	if cfg.MapAPIKey == "" {
		return nil, fmt.Errorf("MAP_API_KEY is required")
	}

	cfg.SurfaceBaseURL = getenvDefault("SURFACE_BASE_URL", "http://localhost:8181")

	timeout, err := getenvDuration("SURFACE_BOOTSTRAP_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	cfg.BootstrapTimeout = timeout

	httpTimeout, err := getenvDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = httpTimeout

	if err := loadCenter(cfg); err != nil {
		return nil, err
	}
	cfg.DefaultZoom = getenvInt("MAP_DEFAULT_ZOOM", 12)

	cfg.DatasetPath = os.Getenv("DATASET_PATH")
	refresh, err := getenvDuration("DATASET_REFRESH_INTERVAL", "1m")
	if err != nil {
		return nil, err
	}
	cfg.RefreshInterval = refresh

	cfg.UploadHistoryLimit = getenvInt("UPLOAD_HISTORY_LIMIT", 20)
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// loadCenter resolves the default view center. Explicit MAP_CENTER_LAT/LNG
// win; otherwise MAP_CENTER_CITY is geocoded once at startup; otherwise the
// center defaults to Bangalore.
func loadCenter(cfg *AppConfig) error {
	latStr := os.Getenv("MAP_CENTER_LAT")
	lngStr := os.Getenv("MAP_CENTER_LNG")

	if latStr != "" && lngStr != "" {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return fmt.Errorf("invalid MAP_CENTER_LAT: %w", err)
		}
		lng, err := strconv.ParseFloat(lngStr, 64)
		if err != nil {
			return fmt.Errorf("invalid MAP_CENTER_LNG: %w", err)
		}
		cfg.CenterLat, cfg.CenterLng = lat, lng
		return nil
	}

	if city := os.Getenv("MAP_CENTER_CITY"); city != "" {
		geocoder.ApiKey = os.Getenv("GEOCODER_API_KEY")
		if geocoder.ApiKey == "" {
			return fmt.Errorf("MAP_CENTER_CITY requires GEOCODER_API_KEY")
		}
		location, err := geocoder.Geocoding(geocoder.Address{City: city})
		if err != nil {
			return fmt.Errorf("geocoding %q: %w", city, err)
		}
		cfg.CenterLat, cfg.CenterLng = location.Latitude, location.Longitude
		return nil
	}

	// Bangalore city center.
	cfg.CenterLat, cfg.CenterLng = 12.9716, 77.5946
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
