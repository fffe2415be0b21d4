package config

import (
	"maps"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/client/backup"
	"github.com/dmitrijs2005/garagekeeper/internal/client/syncer"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Config holds runtime settings for the GarageKeeper client.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	DatabasePath        string
	AccessToken         string
	LogFile             string
	// Demo runs against an in-process gateway instead of the server.
	Demo bool

	RetryBaseDelay     time.Duration
	BackgroundAttempts int
	ManualAttempts     int
	ExhaustAfter       int
	// AuthoritativeFields lists, per collection, the fields whose local value
	// survives a conflict merge.
	AuthoritativeFields map[models.Collection][]string

	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3BaseEndpoint string
	S3Bucket       string
	S3Prefix       string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = 5 * time.Minute
	c.DatabasePath = "garagekeeper.db"
	c.LogFile = "garagekeeper.log"

	d := syncer.DefaultConfig()
	c.RetryBaseDelay = d.BaseDelay
	c.BackgroundAttempts = d.BackgroundAttempts
	c.ManualAttempts = d.ManualAttempts
	c.ExhaustAfter = d.ExhaustAfter
	c.AuthoritativeFields = maps.Clone(syncer.DefaultAuthoritativeFields)

	c.S3Region = "us-east-1"
	c.S3Prefix = "backups"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Sync returns the engine settings.
func (c *Config) Sync() syncer.Config {
	return syncer.Config{
		BaseDelay:          c.RetryBaseDelay,
		BackgroundAttempts: c.BackgroundAttempts,
		ManualAttempts:     c.ManualAttempts,
		ExhaustAfter:       c.ExhaustAfter,
	}
}

// MergePolicy builds the conflict policy from AuthoritativeFields.
func (c *Config) MergePolicy() *syncer.MergePolicy {
	return syncer.NewMergePolicy(c.AuthoritativeFields)
}

// BackupEnabled reports whether a bucket is configured.
func (c *Config) BackupEnabled() bool { return c.S3Bucket != "" }

func (c *Config) S3() backup.S3Config {
	return backup.S3Config{
		Region:       c.S3Region,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		Prefix:       c.S3Prefix,
	}
}
