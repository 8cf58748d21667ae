package config

import (
	"errors"
	"fmt"

	"hotelpipe/internal/etl"
)

// Validate checks value ranges. Presence of stage-specific settings is
// checked by the Require methods, since each command needs a different subset.
func (c *Config) Validate() error {
	var errs []error

	switch c.Telemetry.Alignment {
	case "index", "timestamp":
	default:
		errs = append(errs, fmt.Errorf("telemetry.alignment must be index or timestamp, got %q", c.Telemetry.Alignment))
	}
	if c.Telemetry.MaxRows < 0 {
		errs = append(errs, fmt.Errorf("telemetry.max_rows must not be negative"))
	}
	if c.Telemetry.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("telemetry.retry_max must not be negative"))
	}
	if c.Telemetry.PublishDelay < 0 {
		errs = append(errs, fmt.Errorf("telemetry.publish_delay must not be negative"))
	}

	switch c.Storage.Backend {
	case "s3", "filesystem", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be s3, filesystem or memory, got %q", c.Storage.Backend))
	}

	if _, err := etl.ParseWriteMode(c.Database.Mode); err != nil {
		errs = append(errs, fmt.Errorf("database.mode: %w", err))
	}
	if c.Database.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("database.batch_size must be positive"))
	}

	if c.Features.DistinctThreshold <= 0 {
		errs = append(errs, fmt.Errorf("features.distinct_threshold must be positive"))
	}
	if c.Features.TestFraction <= 0 || c.Features.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("features.test_fraction must be in (0, 1)"))
	}

	return errors.Join(errs...)
}

// missing reports every empty key as ErrConfigMissing.
func missing(pairs ...string) error {
	var names []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			names = append(names, pairs[i])
		}
	}
	if len(names) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", etl.ErrConfigMissing, names)
}

// RequirePublish checks the settings the publisher needs.
func (c *Config) RequirePublish() error {
	return missing(
		"telemetry.url", c.Telemetry.URL,
		"telemetry.device_token", c.Telemetry.DeviceToken,
	)
}

// RequireReassemble checks the settings the telemetry reader needs.
func (c *Config) RequireReassemble() error {
	return missing(
		"telemetry.url", c.Telemetry.URL,
		"telemetry.device_id", c.Telemetry.DeviceID,
		"telemetry.username", c.Telemetry.Username,
		"telemetry.password", c.Telemetry.Password,
	)
}

// RequireStorage checks the settings the object-store bridge needs.
func (c *Config) RequireStorage() error {
	pairs := []string{
		"storage.bucket", c.Storage.Bucket,
		"storage.object", c.Storage.Object,
	}
	switch c.Storage.Backend {
	case "s3":
		pairs = append(pairs,
			"storage.endpoint", c.Storage.Endpoint,
			"storage.access_key", c.Storage.AccessKey,
			"storage.secret_key", c.Storage.SecretKey,
		)
	case "filesystem":
		pairs = append(pairs, "storage.directory", c.Storage.Directory)
	}
	return missing(pairs...)
}

// RequireDatabase checks the settings the relational sink needs.
func (c *Config) RequireDatabase() error {
	return missing(
		"database.url", c.Database.URL,
		"database.table", c.Database.Table,
	)
}
