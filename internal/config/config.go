// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/usestring/trafficlab/pkg/jsoncompact"
)

// Tool output limit defaults
const (
	DefaultSearchLimitValue  = 20
	DefaultHistoryLimitValue = 50
)

// Capacity defaults
const (
	CaptureCacheMaxItemsValue = 5000
	ReplayHistoryMaxValue     = 500
	ParserMaxBufferValue      = 4 << 20
)

// Config holds all configuration for the trafficlab server.
type Config struct {
	// Capture
	TSharkPath       string        // TSHARK_PATH, default "tshark"
	MitmdumpPath     string        // MITMDUMP_PATH, default "mitmdump"
	MitmFlowScript   string        // MITM_FLOW_SCRIPT, default "" (mitmdump prints "METHOD URL" lines)
	DefaultInterface string        // CAPTURE_INTERFACE, default "any"
	StopTimeout      time.Duration // CAPTURE_STOP_TIMEOUT_MS, default 5000ms
	ParserMaxBuffer  int           // PARSER_MAX_BUFFER_BYTES, default 4 MiB

	// Capture store
	CaptureCacheMaxItems int  // CAPTURE_CACHE_MAX_ITEMS, default 5000
	IndexBody            bool // INDEX_BODY, default false
	IndexBodyMaxBytes    int  // INDEX_BODY_MAX_BYTES, default 65536

	// Certificates
	CertDir        string        // CERT_DIR, default "~/.trafficlab/certs"
	OpenSSLPath    string        // OPENSSL_PATH, default "openssl"
	SignerTimeout  time.Duration // SIGNER_TIMEOUT_MS, default 60000ms
	RootCAValidity int           // ROOT_CA_VALIDITY_DAYS, default 3650
	HostValidity   int           // HOST_CERT_VALIDITY_DAYS, default 365

	// Replay
	ReplayTimeout    time.Duration // REPLAY_TIMEOUT_MS, default 30000ms
	ReplayHistoryMax int           // REPLAY_HISTORY_MAX, default 500
	EnvironmentsFile string        // REPLAY_ENVIRONMENTS_FILE, default "" (no environments)
	WatchEnvironment bool          // REPLAY_ENVIRONMENTS_WATCH, default true

	// Side channels
	HTTPAddr   string // HTTP_ADDR, default "" (disabled)
	StorageDSN string // STORAGE_DSN, default "" (stopped sessions kept in memory only)

	// Compaction defaults (for AI-optimized responses)
	CompactMaxArrayItems int // COMPACT_MAX_ARRAY_ITEMS
	CompactMaxStringLen  int // COMPACT_MAX_STRING_LEN
	CompactMaxDepth      int // COMPACT_MAX_DEPTH

	// Tool output limits
	DefaultSearchLimit  int // DEFAULT_SEARCH_LIMIT
	DefaultHistoryLimit int // DEFAULT_HISTORY_LIMIT

	// Logging configuration
	LogLevel      string // LOG_LEVEL, default "info"
	LogFile       string // LOG_FILE, default "" (stderr only)
	LogMaxSizeMB  int    // LOG_MAX_SIZE_MB, default 10
	LogMaxBackups int    // LOG_MAX_BACKUPS, default 5
	LogMaxAgeDays int    // LOG_MAX_AGE_DAYS, default 28
	LogCompress   bool   // LOG_COMPRESS, default true
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		TSharkPath:       getEnvString("TSHARK_PATH", "tshark"),
		MitmdumpPath:     getEnvString("MITMDUMP_PATH", "mitmdump"),
		MitmFlowScript:   getEnvString("MITM_FLOW_SCRIPT", ""),
		DefaultInterface: getEnvString("CAPTURE_INTERFACE", "any"),
		StopTimeout:      getEnvDurationMs("CAPTURE_STOP_TIMEOUT_MS", 5000),
		ParserMaxBuffer:  getEnvInt("PARSER_MAX_BUFFER_BYTES", ParserMaxBufferValue),

		CaptureCacheMaxItems: getEnvInt("CAPTURE_CACHE_MAX_ITEMS", CaptureCacheMaxItemsValue),
		IndexBody:            getEnvBool("INDEX_BODY", false),
		IndexBodyMaxBytes:    getEnvInt("INDEX_BODY_MAX_BYTES", 65536),

		CertDir:        getEnvString("CERT_DIR", defaultCertDir()),
		OpenSSLPath:    getEnvString("OPENSSL_PATH", "openssl"),
		SignerTimeout:  getEnvDurationMs("SIGNER_TIMEOUT_MS", 60000),
		RootCAValidity: getEnvInt("ROOT_CA_VALIDITY_DAYS", 3650),
		HostValidity:   getEnvInt("HOST_CERT_VALIDITY_DAYS", 365),

		ReplayTimeout:    getEnvDurationMs("REPLAY_TIMEOUT_MS", 30000),
		ReplayHistoryMax: getEnvInt("REPLAY_HISTORY_MAX", ReplayHistoryMaxValue),
		EnvironmentsFile: getEnvString("REPLAY_ENVIRONMENTS_FILE", ""),
		WatchEnvironment: getEnvBool("REPLAY_ENVIRONMENTS_WATCH", true),

		HTTPAddr:   getEnvString("HTTP_ADDR", ""),
		StorageDSN: getEnvString("STORAGE_DSN", ""),

		// Compaction defaults (from jsoncompact package)
		CompactMaxArrayItems: getEnvInt("COMPACT_MAX_ARRAY_ITEMS", jsoncompact.DefaultMaxArrayItems),
		CompactMaxStringLen:  getEnvInt("COMPACT_MAX_STRING_LEN", jsoncompact.DefaultMaxStringLen),
		CompactMaxDepth:      getEnvInt("COMPACT_MAX_DEPTH", jsoncompact.DefaultMaxDepth),

		DefaultSearchLimit:  getEnvInt("DEFAULT_SEARCH_LIMIT", DefaultSearchLimitValue),
		DefaultHistoryLimit: getEnvInt("DEFAULT_HISTORY_LIMIT", DefaultHistoryLimitValue),

		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

func defaultCertDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "trafficlab", "certs")
	}
	return filepath.Join(home, ".trafficlab", "certs")
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultMs int) time.Duration {
	ms := getEnvInt(key, defaultMs)
	return time.Duration(ms) * time.Millisecond
}
