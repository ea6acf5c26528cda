package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRelay()
	if err := c.normalizeSnapshots(); err != nil {
		return err
	}
	c.normalizeControlBus()
	c.normalizeCameras()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SnapshotDir) == "" {
		c.Paths.SnapshotDir = defaultSnapshotDir
	}
	if c.Paths.SnapshotDir, err = expandPath(c.Paths.SnapshotDir); err != nil {
		return fmt.Errorf("paths.snapshot_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CAMRELAY_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeRelay() {
	c.Relay.APIURL = strings.TrimRight(strings.TrimSpace(c.Relay.APIURL), "/")
	if c.Relay.APIURL == "" {
		c.Relay.APIURL = defaultRelayAPIURL
	}
	c.Relay.PublishURL = strings.TrimRight(strings.TrimSpace(c.Relay.PublishURL), "/")
	if c.Relay.PublishURL == "" {
		c.Relay.PublishURL = defaultRelayPublishURL
	}
	c.Relay.FFmpegBinary = strings.TrimSpace(c.Relay.FFmpegBinary)
	if c.Relay.FFmpegBinary == "" {
		c.Relay.FFmpegBinary = defaultFFmpegBinary
	}
	c.Relay.RecordPath = strings.TrimSpace(c.Relay.RecordPath)
	if c.Relay.HealthSeconds <= 0 {
		c.Relay.HealthSeconds = defaultRelayHealthSeconds
	}
}

func (c *Config) normalizeSnapshots() error {
	if c.Snapshots.IntervalSeconds <= 0 {
		c.Snapshots.IntervalSeconds = defaultSnapshotInterval
	}
	if c.Snapshots.IntervalSeconds < minSnapshotInterval {
		c.Snapshots.IntervalSeconds = minSnapshotInterval
	}
	if c.Snapshots.SolarIntervalSeconds <= 0 {
		c.Snapshots.SolarIntervalSeconds = defaultSolarInterval
	}
	c.Snapshots.ImageType = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Snapshots.ImageType), "."))
	if c.Snapshots.ImageType == "" {
		c.Snapshots.ImageType = defaultImageType
	}
	c.Snapshots.Format = strings.TrimSpace(c.Snapshots.Format)
	if c.Snapshots.Latitude == 0 && c.Snapshots.Longitude == 0 {
		lat, latOK := lookupFloatEnv("CAMRELAY_LATITUDE")
		lon, lonOK := lookupFloatEnv("CAMRELAY_LONGITUDE")
		if latOK && lonOK {
			c.Snapshots.Latitude = lat
			c.Snapshots.Longitude = lon
		}
	}
	cameras := make([]string, 0, len(c.Snapshots.Cameras))
	for _, name := range c.Snapshots.Cameras {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cameras = append(cameras, trimmed)
		}
	}
	c.Snapshots.Cameras = cameras
	if c.Retention.IntervalSeconds <= 0 {
		c.Retention.IntervalSeconds = defaultRetentionInterval
	}
	c.Retention.MaxAge = strings.TrimSpace(c.Retention.MaxAge)
	return nil
}

func (c *Config) normalizeControlBus() {
	c.ControlBus.NATSURL = strings.TrimSpace(c.ControlBus.NATSURL)
	if c.ControlBus.NATSURL == "" {
		if value, ok := os.LookupEnv("CAMRELAY_NATS_URL"); ok {
			c.ControlBus.NATSURL = strings.TrimSpace(value)
		}
	}
	c.ControlBus.SubjectPrefix = strings.Trim(strings.TrimSpace(c.ControlBus.SubjectPrefix), ".")
	if c.ControlBus.SubjectPrefix == "" {
		c.ControlBus.SubjectPrefix = defaultSubjectPrefix
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeCameras() {
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		cam.Name = strings.TrimSpace(cam.Name)
		cam.Model = strings.TrimSpace(cam.Model)
		cam.Host = strings.TrimSpace(cam.Host)
		cam.RetentionMaxAge = strings.TrimSpace(cam.RetentionMaxAge)
		args := cam.Source[:0]
		for _, arg := range cam.Source {
			if trimmed := strings.TrimSpace(arg); trimmed != "" {
				args = append(args, trimmed)
			}
		}
		cam.Source = args
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func lookupFloatEnv(key string) (float64, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
