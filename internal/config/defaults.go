package config

const (
	defaultStateDir               = "~/.local/share/camrelay"
	defaultLogDir                 = "~/.local/share/camrelay/logs"
	defaultSnapshotDir            = "~/.local/share/camrelay/snapshots"
	defaultAPIBind                = "127.0.0.1:7590"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultBackoffInitialSeconds  = 1
	defaultBackoffMaxSeconds      = 60
	defaultMinUptimeSeconds       = 30
	defaultStaleFrameSeconds      = 20
	defaultConnectTimeoutSeconds  = 20
	defaultStopTimeoutSeconds     = 5
	defaultShutdownTimeoutSeconds = 10
	defaultRelayAPIURL            = "http://127.0.0.1:9997"
	defaultRelayPublishURL        = "rtsp://127.0.0.1:8554"
	defaultRelayHealthSeconds     = 30
	defaultFFmpegBinary           = "ffmpeg"
	defaultSnapshotInterval       = 180
	minSnapshotInterval           = 15
	defaultSolarInterval          = 30
	defaultImageType              = "jpg"
	defaultRetentionInterval      = 300
	defaultSubjectPrefix          = "camrelay"
	defaultNotifyRequestTimeout   = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			SnapshotDir: defaultSnapshotDir,
			APIBind:     defaultAPIBind,
		},
		Supervisor: Supervisor{
			BackoffInitialSeconds:  defaultBackoffInitialSeconds,
			BackoffMaxSeconds:      defaultBackoffMaxSeconds,
			MinUptimeSeconds:       defaultMinUptimeSeconds,
			StaleFrameSeconds:      defaultStaleFrameSeconds,
			ConnectTimeoutSeconds:  defaultConnectTimeoutSeconds,
			StopTimeoutSeconds:     defaultStopTimeoutSeconds,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
			AutoStart:              true,
		},
		Relay: Relay{
			APIURL:        defaultRelayAPIURL,
			PublishURL:    defaultRelayPublishURL,
			FFmpegBinary:  defaultFFmpegBinary,
			HealthSeconds: defaultRelayHealthSeconds,
		},
		Snapshots: Snapshots{
			IntervalSeconds:      defaultSnapshotInterval,
			SolarIntervalSeconds: defaultSolarInterval,
			ImageType:            defaultImageType,
		},
		Retention: Retention{
			IntervalSeconds: defaultRetentionInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Failed:         true,
			Recovered:      true,
		},
		ControlBus: ControlBus{
			SubjectPrefix: defaultSubjectPrefix,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
