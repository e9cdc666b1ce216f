package config

import (
	"encoding/json"
	"os"

	"github.com/fpkiosk/fpkiosk/internal/flagx"
	"github.com/fpkiosk/fpkiosk/internal/timex"
)

// jsonConfig is the file-format DTO. Durations accept both "12h" strings
// and integer nanoseconds via timex.Duration. Pointer fields distinguish
// "absent" from zero so the file only overrides what it names.
type jsonConfig struct {
	ListenAddr    *string         `json:"listen_addr"`
	DatabaseDSN   *string         `json:"database_dsn"`
	Engine        *string         `json:"engine"`
	VectorDims    *int            `json:"vector_dims"`
	KioskID       *string         `json:"kiosk_id"`
	SecretKey     *string         `json:"secret_key"`
	TokenValidity *timex.Duration `json:"token_validity"`

	DuplicateThreshold   *int `json:"duplicate_threshold"`
	ConsistencyThreshold *int `json:"consistency_threshold"`
	IdentifyThreshold    *int `json:"identify_threshold"`

	EventBuffer *int `json:"event_buffer"`

	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`
}

func overlayString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func overlayInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// parseJSON loads configuration from the JSON file named by the -c/-config
// flag. No flag, no file loaded; unreadable or invalid files panic, since
// a kiosk booted with broken config must not come up half-configured.
func parseJSON(config *Config) {
	path := flagx.JSONConfigFlag()
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlayString(&config.ListenAddr, c.ListenAddr)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.Engine, c.Engine)
	overlayInt(&config.VectorDims, c.VectorDims)
	overlayString(&config.KioskID, c.KioskID)
	overlayString(&config.SecretKey, c.SecretKey)
	if c.TokenValidity != nil {
		config.TokenValidity = c.TokenValidity.Duration
	}
	overlayInt(&config.DuplicateThreshold, c.DuplicateThreshold)
	overlayInt(&config.ConsistencyThreshold, c.ConsistencyThreshold)
	overlayInt(&config.IdentifyThreshold, c.IdentifyThreshold)
	overlayInt(&config.EventBuffer, c.EventBuffer)
	overlayString(&config.S3RootUser, c.S3RootUser)
	overlayString(&config.S3RootPassword, c.S3RootPassword)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
