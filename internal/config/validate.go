package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateSnapshots(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateControlBus(); err != nil {
		return err
	}
	if err := c.validateCameras(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	if err := ensurePositiveMap(map[string]int{
		"supervisor.backoff_initial_seconds":  c.Supervisor.BackoffInitialSeconds,
		"supervisor.backoff_max_seconds":      c.Supervisor.BackoffMaxSeconds,
		"supervisor.stale_frame_seconds":      c.Supervisor.StaleFrameSeconds,
		"supervisor.connect_timeout_seconds":  c.Supervisor.ConnectTimeoutSeconds,
		"supervisor.stop_timeout_seconds":     c.Supervisor.StopTimeoutSeconds,
		"supervisor.shutdown_timeout_seconds": c.Supervisor.ShutdownTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Supervisor.BackoffMaxSeconds < c.Supervisor.BackoffInitialSeconds {
		return errors.New("supervisor.backoff_max_seconds must be >= supervisor.backoff_initial_seconds")
	}
	if c.Supervisor.MinUptimeSeconds < 0 {
		return errors.New("supervisor.min_uptime_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateRelay() error {
	for key, raw := range map[string]string{
		"relay.api_url":     c.Relay.APIURL,
		"relay.publish_url": c.Relay.PublishURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}
	if c.Relay.Record && c.Relay.RecordPath == "" {
		return errors.New("relay.record_path must be set when relay.record is true")
	}
	return nil
}

func (c *Config) validateSnapshots() error {
	if c.Snapshots.Latitude < -90 || c.Snapshots.Latitude > 90 {
		return errors.New("snapshots.latitude must be between -90 and 90")
	}
	if c.Snapshots.Longitude < -180 || c.Snapshots.Longitude > 180 {
		return errors.New("snapshots.longitude must be between -180 and 180")
	}
	switch c.Snapshots.ImageType {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("snapshots.image_type %q is not supported (use jpg or png)", c.Snapshots.ImageType)
	}
	return nil
}

func (c *Config) validateRetention() error {
	if _, err := ParseRetention(c.Retention.MaxAge); err != nil {
		return fmt.Errorf("retention.max_age: %w", err)
	}
	if c.Retention.MaxCount < 0 {
		return errors.New("retention.max_count must be >= 0")
	}
	return nil
}

func (c *Config) validateControlBus() error {
	if c.ControlBus.Enabled && c.ControlBus.NATSURL == "" {
		return errors.New("control_bus.nats_url must be set when control_bus.enabled is true (or set CAMRELAY_NATS_URL)")
	}
	if strings.ContainsAny(c.ControlBus.SubjectPrefix, " *>") {
		return fmt.Errorf("control_bus.subject_prefix %q must not contain spaces or wildcards", c.ControlBus.SubjectPrefix)
	}
	return nil
}

func (c *Config) validateCameras() error {
	seen := make(map[string]struct{}, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("cameras[%d].name must be set", i)
		}
		key := strings.ToLower(cam.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("cameras[%d].name %q is duplicated", i, cam.Name)
		}
		seen[key] = struct{}{}
		if cam.Name == "*" {
			return fmt.Errorf("cameras[%d].name must not be the fan-out target \"*\"", i)
		}
		if len(cam.Source) == 0 && !cam.Disabled {
			return fmt.Errorf("cameras[%d].source must be set for enabled camera %q", i, cam.Name)
		}
		if _, err := ParseRetention(cam.RetentionMaxAge); err != nil {
			return fmt.Errorf("cameras[%d].retention_max_age: %w", i, err)
		}
		if cam.RetentionMaxCount < 0 || cam.SnapshotIntervalSeconds < 0 {
			return fmt.Errorf("cameras[%d]: retention_max_count and snapshot_interval_seconds must be >= 0", i)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
