package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values for the video stream proxy.
// It covers the HTTP surface, upstream fetch policy, session lifecycle, relay
// pacing, and the optional history store.
type Config struct {
	Port                 int           `json:"port"`                 // HTTP listen port
	BaseURL              string        `json:"baseURL"`              // Base URL for links rendered on the home/admin pages
	Debug                bool          `json:"debug"`                // Enable debug logging
	ObfuscateUrls        bool          `json:"obfuscateUrls"`        // Obfuscate upstream URLs in logs
	PrimaryReferer       string        `json:"primaryReferer"`       // Referer sent on the first upstream attempt
	FallbackReferer      string        `json:"fallbackReferer"`      // Referer used for the single 403 retry
	OpenTimeout          time.Duration `json:"openTimeout"`          // Upstream response-header timeout, standard profiles
	OpenTimeoutMobile    time.Duration `json:"openTimeoutMobile"`    // Upstream response-header timeout, mobile-player profile
	FirstDataTimeout     time.Duration `json:"firstDataTimeout"`     // Max wait for the first body byte after headers
	StallTimeout         time.Duration `json:"stallTimeout"`         // Max gap between body bytes mid-stream
	MaxStreamDuration    time.Duration `json:"maxStreamDuration"`    // Wall-clock ceiling for a single relayed stream
	SessionTTL           time.Duration `json:"sessionTTL"`           // Age after which a session is evicted
	JanitorInterval      time.Duration `json:"janitorInterval"`      // Sweep interval for the session janitor
	ChunkSizeFast        int           `json:"chunkSizeFast"`        // Chunk size for fast-mode relays, bytes
	ChunkSizeStandard    int           `json:"chunkSizeStandard"`    // Chunk size for standard-mode relays, bytes
	MaxConcurrentStreams int           `json:"maxConcurrentStreams"` // Global cap on simultaneously relayed streams
	WorkerThreads        int           `json:"workerThreads"`        // Background worker pool size
	UpstreamRateLimit    int           `json:"upstreamRateLimit"`    // Upstream opens per second, per host
	RewritePlaylists     bool          `json:"rewritePlaylists"`     // Rewrite HLS playlist URIs through the proxy
	MetadataCacheSize    int           `json:"metadataCacheSize"`    // Max entries in the upstream metadata cache
	MetadataCacheTTL     time.Duration `json:"metadataCacheTTL"`     // Expiry for cached upstream metadata
	DatabasePath         string        `json:"databasePath"`         // SQLite path for the history store ("" disables it)
	HistoryRetention     time.Duration `json:"historyRetention"`     // Age after which history rows are purged
	ShutdownGrace        time.Duration `json:"shutdownGrace"`        // Drain window for in-flight streams on shutdown
}

// ConfigFile mirrors Config for the on-disk JSON file. Duration fields are
// strings (e.g. "30s", "1h") parsed into time.Duration on load.
type ConfigFile struct {
	Port                 int    `json:"port"`
	BaseURL              string `json:"baseURL"`
	Debug                bool   `json:"debug"`
	ObfuscateUrls        bool   `json:"obfuscateUrls"`
	PrimaryReferer       string `json:"primaryReferer"`
	FallbackReferer      string `json:"fallbackReferer"`
	OpenTimeout          string `json:"openTimeout"`
	OpenTimeoutMobile    string `json:"openTimeoutMobile"`
	FirstDataTimeout     string `json:"firstDataTimeout"`
	StallTimeout         string `json:"stallTimeout"`
	MaxStreamDuration    string `json:"maxStreamDuration"`
	SessionTTL           string `json:"sessionTTL"`
	JanitorInterval      string `json:"janitorInterval"`
	ChunkSizeFast        int    `json:"chunkSizeFast"`
	ChunkSizeStandard    int    `json:"chunkSizeStandard"`
	MaxConcurrentStreams int    `json:"maxConcurrentStreams"`
	WorkerThreads        int    `json:"workerThreads"`
	UpstreamRateLimit    int    `json:"upstreamRateLimit"`
	RewritePlaylists     bool   `json:"rewritePlaylists"`
	MetadataCacheSize    int    `json:"metadataCacheSize"`
	MetadataCacheTTL     string `json:"metadataCacheTTL"`
	DatabasePath         string `json:"databasePath"`
	HistoryRetention     string `json:"historyRetention"`
	ShutdownGrace        string `json:"shutdownGrace"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Loads a .env file when present, then reads CONFIG_PATH (default
//     /settings/config.json).
//   - Falls back to defaults if the file is missing or invalid.
//   - Applies PORT/DEBUG environment overrides and validation.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	// .env is optional; environment wins over file values either way
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/settings/config.json"
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = GetDefaultConfig()
	}

	applyEnvOverrides(config)
	validateAndSetDefaults(config)

	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Port: %d", config.Port)
		log.Printf("  Chunk sizes: fast=%d standard=%d", config.ChunkSizeFast, config.ChunkSizeStandard)
		log.Printf("  Session TTL: %v (janitor every %v)", config.SessionTTL, config.JanitorInterval)
		log.Printf("  Max concurrent streams: %d", config.MaxConcurrentStreams)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
		if config.DatabasePath != "" {
			log.Printf("  History store: %s (retention %v)", config.DatabasePath, config.HistoryRetention)
		}
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		Port:                 cf.Port,
		BaseURL:              cf.BaseURL,
		Debug:                cf.Debug,
		ObfuscateUrls:        cf.ObfuscateUrls,
		PrimaryReferer:       cf.PrimaryReferer,
		FallbackReferer:      cf.FallbackReferer,
		ChunkSizeFast:        cf.ChunkSizeFast,
		ChunkSizeStandard:    cf.ChunkSizeStandard,
		MaxConcurrentStreams: cf.MaxConcurrentStreams,
		WorkerThreads:        cf.WorkerThreads,
		UpstreamRateLimit:    cf.UpstreamRateLimit,
		RewritePlaylists:     cf.RewritePlaylists,
		MetadataCacheSize:    cf.MetadataCacheSize,
		DatabasePath:         cf.DatabasePath,
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"openTimeout", cf.OpenTimeout, &config.OpenTimeout},
		{"openTimeoutMobile", cf.OpenTimeoutMobile, &config.OpenTimeoutMobile},
		{"firstDataTimeout", cf.FirstDataTimeout, &config.FirstDataTimeout},
		{"stallTimeout", cf.StallTimeout, &config.StallTimeout},
		{"maxStreamDuration", cf.MaxStreamDuration, &config.MaxStreamDuration},
		{"sessionTTL", cf.SessionTTL, &config.SessionTTL},
		{"janitorInterval", cf.JanitorInterval, &config.JanitorInterval},
		{"metadataCacheTTL", cf.MetadataCacheTTL, &config.MetadataCacheTTL},
		{"historyRetention", cf.HistoryRetention, &config.HistoryRetention},
		{"shutdownGrace", cf.ShutdownGrace, &config.ShutdownGrace},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// applyEnvOverrides lets deployment environments adjust the listen port and
// debug flag without editing the config file.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			config.Port = p
		}
	}
	if debug := os.Getenv("DEBUG"); debug != "" {
		config.Debug = debug == "1" || debug == "true"
	}
}

// GetDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func GetDefaultConfig() *Config {
	return &Config{
		Port:                 5000,
		BaseURL:              "http://localhost:5000",
		Debug:                false,
		ObfuscateUrls:        true,
		PrimaryReferer:       "https://moviebox.ng/",
		FallbackReferer:      "https://valiw.hakunaymatata.com/",
		OpenTimeout:          20 * time.Second,
		OpenTimeoutMobile:    30 * time.Second,
		FirstDataTimeout:     15 * time.Second,
		StallTimeout:         30 * time.Second,
		MaxStreamDuration:    6 * time.Hour,
		SessionTTL:           time.Hour,
		JanitorInterval:      5 * time.Minute,
		ChunkSizeFast:        1024 * 1024,
		ChunkSizeStandard:    512 * 1024,
		MaxConcurrentStreams: 100,
		WorkerThreads:        8,
		UpstreamRateLimit:    10,
		RewritePlaylists:     true,
		MetadataCacheSize:    256,
		MetadataCacheTTL:     time.Minute,
		DatabasePath:         "",
		HistoryRetention:     7 * 24 * time.Hour,
		ShutdownGrace:        10 * time.Second,
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or nonsensical ones.
func validateAndSetDefaults(config *Config) {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = 5000
	}
	if config.BaseURL == "" {
		config.BaseURL = fmt.Sprintf("http://localhost:%d", config.Port)
	}
	if config.PrimaryReferer == "" {
		config.PrimaryReferer = "https://moviebox.ng/"
	}
	if config.FallbackReferer == "" {
		config.FallbackReferer = "https://valiw.hakunaymatata.com/"
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 20 * time.Second
	}
	if config.OpenTimeoutMobile <= 0 {
		config.OpenTimeoutMobile = 30 * time.Second
	}
	if config.FirstDataTimeout <= 0 {
		config.FirstDataTimeout = 15 * time.Second
	}
	if config.StallTimeout <= 0 {
		config.StallTimeout = 30 * time.Second
	}
	if config.MaxStreamDuration <= 0 {
		config.MaxStreamDuration = 6 * time.Hour
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = time.Hour
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = 5 * time.Minute
	}
	if config.ChunkSizeFast <= 0 {
		config.ChunkSizeFast = 1024 * 1024
	}
	if config.ChunkSizeStandard <= 0 {
		config.ChunkSizeStandard = 512 * 1024
	}
	if config.MaxConcurrentStreams <= 0 {
		config.MaxConcurrentStreams = 100
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.UpstreamRateLimit <= 0 {
		config.UpstreamRateLimit = 10
	}
	if config.MetadataCacheSize <= 0 {
		config.MetadataCacheSize = 256
	}
	if config.MetadataCacheTTL <= 0 {
		config.MetadataCacheTTL = time.Minute
	}
	if config.HistoryRetention <= 0 {
		config.HistoryRetention = 7 * 24 * time.Hour
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 10 * time.Second
	}
}

// ToFile converts a runtime Config back into its on-disk shape, with
// durations rendered as strings. The admin API serves this view so the
// echoed config is valid input for the config file.
func ToFile(config *Config) *ConfigFile {
	return &ConfigFile{
		Port:                 config.Port,
		BaseURL:              config.BaseURL,
		Debug:                config.Debug,
		ObfuscateUrls:        config.ObfuscateUrls,
		PrimaryReferer:       config.PrimaryReferer,
		FallbackReferer:      config.FallbackReferer,
		OpenTimeout:          config.OpenTimeout.String(),
		OpenTimeoutMobile:    config.OpenTimeoutMobile.String(),
		FirstDataTimeout:     config.FirstDataTimeout.String(),
		StallTimeout:         config.StallTimeout.String(),
		MaxStreamDuration:    config.MaxStreamDuration.String(),
		SessionTTL:           config.SessionTTL.String(),
		JanitorInterval:      config.JanitorInterval.String(),
		ChunkSizeFast:        config.ChunkSizeFast,
		ChunkSizeStandard:    config.ChunkSizeStandard,
		MaxConcurrentStreams: config.MaxConcurrentStreams,
		WorkerThreads:        config.WorkerThreads,
		UpstreamRateLimit:    config.UpstreamRateLimit,
		RewritePlaylists:     config.RewritePlaylists,
		MetadataCacheSize:    config.MetadataCacheSize,
		MetadataCacheTTL:     config.MetadataCacheTTL.String(),
		DatabasePath:         config.DatabasePath,
		HistoryRetention:     config.HistoryRetention.String(),
		ShutdownGrace:        config.ShutdownGrace.String(),
	}
}

// CreateExampleConfig writes an example config file to disk so a fresh
// deployment has something to edit.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		Port:                 5000,
		BaseURL:              "http://localhost:5000",
		Debug:                false,
		ObfuscateUrls:        true,
		PrimaryReferer:       "https://moviebox.ng/",
		FallbackReferer:      "https://valiw.hakunaymatata.com/",
		OpenTimeout:          "20s",
		OpenTimeoutMobile:    "30s",
		FirstDataTimeout:     "15s",
		StallTimeout:         "30s",
		MaxStreamDuration:    "6h",
		SessionTTL:           "1h",
		JanitorInterval:      "5m",
		ChunkSizeFast:        1024 * 1024,
		ChunkSizeStandard:    512 * 1024,
		MaxConcurrentStreams: 100,
		WorkerThreads:        8,
		UpstreamRateLimit:    10,
		RewritePlaylists:     true,
		MetadataCacheSize:    256,
		MetadataCacheTTL:     "1m",
		DatabasePath:         "/data/faststream.db",
		HistoryRetention:     "168h",
		ShutdownGrace:        "10s",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the cached config, forcing a reload on the next
// LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// ObfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.mp4?token=abc"
//	Output: "http://example.com/***?***"
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
