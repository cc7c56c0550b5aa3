package config

import "time"

// Source defaults.
const (
	DefaultSourceKind    = "git"
	DefaultSourcePath    = "."
	DefaultSourceRef     = "HEAD"
	DefaultSourceState   = "open"
	DefaultSourceDetail  = "pull"
	DefaultSourceAPIURL  = "https://api.github.com"
	DefaultSourceTimeout = 30 * time.Second
	DefaultMaxChangeSets = 0
)

// Build defaults.
const (
	DefaultWeighting         = "change"
	DefaultMaxChangeSetFiles = 0
	DefaultFetchWorkers      = 4
	DefaultSkipVendored      = true
)

// Output defaults.
const (
	DefaultOutputPath     = "cochange.json"
	DefaultOutputFormat   = "json"
	DefaultOutputCompress = false
)

// Server defaults.
const (
	DefaultServerAddr         = "127.0.0.1:7878"
	DefaultServerDir          = "."
	DefaultServerIndex        = "index.json"
	DefaultServerWorkers      = 4
	DefaultServerCacheEntries = 64
	DefaultServerReadTimeout  = 10 * time.Second
	DefaultServerWriteTimeout = 30 * time.Second
)

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Telemetry defaults.
const (
	DefaultOTLPInsecure = false
	DefaultSampleRatio  = 1.0
)
