package config

import "time"

// Default configuration constants for the client, its engine link and telemetry
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	DefaultOTelExporter   = "none"
	DefaultOTelSampleRate = 1.0

	DefaultBreakerMaxRequests      = 1
	DefaultBreakerInterval         = 60 * time.Second
	DefaultBreakerTimeout          = 10 * time.Second
	DefaultBreakerFailureThreshold = 3

	DefaultChartRefreshPerSecond = 4.0
	DefaultChartRefreshBurst     = 1
	DefaultTelemetryCapacity     = 20

	DefaultScriptInterval = 200 * time.Millisecond
)
