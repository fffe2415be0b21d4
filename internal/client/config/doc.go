// Package config loads runtime configuration for the GarageKeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "sync_interval": "5m",
//	  "database_path": "garagekeeper.db",
//	  "access_token": "eyJ...",
//	  "retry_base_delay": "500ms",
//	  "background_attempts": 3,
//	  "manual_attempts": 5,
//	  "exhaust_after": 5,
//	  "s3_bucket": "garage-backups",
//	  "s3_base_endpoint": "http://127.0.0.1:9000"
//	}
//
// Keys missing from the file keep their default.
package config
