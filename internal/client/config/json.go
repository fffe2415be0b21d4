package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/garagekeeper/internal/flagx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// leave the corresponding Config field untouched.
type JsonConfig struct {
	ServerEndpointAddr  string          `json:"server_endpoint_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	SyncInterval        *timex.Duration `json:"sync_interval"`
	DatabasePath        string          `json:"database_path"`
	AccessToken         string          `json:"access_token"`
	LogFile             string          `json:"log_file"`
	Demo                *bool           `json:"demo"`

	RetryBaseDelay     *timex.Duration `json:"retry_base_delay"`
	BackgroundAttempts *int            `json:"background_attempts"`
	ManualAttempts     *int            `json:"manual_attempts"`
	ExhaustAfter       *int            `json:"exhaust_after"`

	// AuthoritativeFields replaces the field list of each collection it names.
	AuthoritativeFields map[string][]string `json:"authoritative_fields"`

	S3Region       string `json:"s3_region"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3Bucket       string `json:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// parseJson overlays Config with values loaded from the file named by -c or
// -config. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.LogFile, jc.LogFile)
	setPtr(&cfg.Demo, jc.Demo)

	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.SyncInterval != nil {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.RetryBaseDelay != nil {
		cfg.RetryBaseDelay = jc.RetryBaseDelay.Duration
	}
	setPtr(&cfg.BackgroundAttempts, jc.BackgroundAttempts)
	setPtr(&cfg.ManualAttempts, jc.ManualAttempts)
	setPtr(&cfg.ExhaustAfter, jc.ExhaustAfter)
	for name, fields := range jc.AuthoritativeFields {
		c, err := models.ParseCollection(name)
		if err != nil {
			panic(fmt.Errorf("authoritative_fields: %q: %w", name, err))
		}
		if cfg.AuthoritativeFields == nil {
			cfg.AuthoritativeFields = map[models.Collection][]string{}
		}
		cfg.AuthoritativeFields[c] = fields
	}

	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Prefix, jc.S3Prefix)
}
