// Package config handles configuration for the kiosk daemon: development
// defaults, optional .env file, optional JSON overlay and command-line
// flags, applied in that order.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Engine selector values.
const (
	EngineAfis   = "afis"
	EngineVector = "vector"
)

// Config holds runtime settings for the fpkiosk daemon.
//
// Fields:
//   - ListenAddr: bind address for the local HTTP API.
//   - DatabaseDSN: SQLite path/DSN of the subject store.
//   - Engine: matching engine, "afis" (raster readers) or "vector".
//   - VectorDims: embedding size when Engine is "vector".
//   - KioskID: stable identifier of this kiosk, used in backup keys.
//   - SecretKey: HMAC secret for API tokens (HS256).
//   - TokenValidity: API token lifetime.
//   - DuplicateThreshold: score at or above which a new sample counts as an
//     already-enrolled finger (blocks enrollment).
//   - ConsistencyThreshold: minimum score between consecutive samples of
//     one enrollment session.
//   - IdentifyThreshold: minimum score for an identification match.
//   - EventBuffer: number of recent events kept for the UI poll feed.
//   - S3*: credentials and location of the snapshot backup target.
type Config struct {
	ListenAddr    string
	DatabaseDSN   string
	Engine        string
	VectorDims    int
	KioskID       string
	SecretKey     string
	TokenValidity time.Duration

	DuplicateThreshold   int
	ConsistencyThreshold int
	IdentifyThreshold    int

	EventBuffer int

	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// LoadDefaults populates Config with development defaults. The thresholds
// are the tuned production values; changing them trades false accepts
// against false rejects.
func (c *Config) LoadDefaults() {
	c.ListenAddr = "127.0.0.1:8977"
	c.DatabaseDSN = "fingerprints.db"
	c.Engine = EngineAfis
	c.VectorDims = 192
	c.KioskID = "kiosk-1"
	c.SecretKey = "secretKey"
	c.TokenValidity = 12 * time.Hour
	c.DuplicateThreshold = 55
	c.ConsistencyThreshold = 50
	c.IdentifyThreshold = 70
	c.EventBuffer = 256
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "fingerprints"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// parseEnv overlays secrets from the environment. A .env file is loaded
// first when present; absence is not an error.
func parseEnv(c *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("FPKIOSK_SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := os.Getenv("FPKIOSK_S3_USER"); v != "" {
		c.S3RootUser = v
	}
	if v := os.Getenv("FPKIOSK_S3_PASSWORD"); v != "" {
		c.S3RootPassword = v
	}
	if v := os.Getenv("FPKIOSK_KIOSK_ID"); v != "" {
		c.KioskID = v
	}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from the environment, an optional JSON file and command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
