package common

import "github.com/spf13/viper"

// ===============================================================================
// Redis Related Config

// RedisConfig defines parameters for connecting to the Redis server backing
// the durable station store
type RedisConfig struct {
	// ServerURI is the Redis connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to Redis in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config"`
	// AdvertisedHost is the "host:port" section of the websocket join URL
	// returned on client registration
	AdvertisedHost string `mapstructure:"advertised_host" json:"advertised_host" validate:"required"`
	// PathPrefix is the end-point path prefix for the broker APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// Session Related Config

// SessionConfig defines per-connection session parameters
type SessionConfig struct {
	// OutboundBuffer is the depth of a connection's outbound message channel.
	// Sends to a connection with a full buffer are dropped.
	OutboundBuffer int `mapstructure:"outbound_buffer" json:"outbound_buffer" validate:"gte=1"`
	// DispatchWorkers is the number of workers draining the inbound message
	// dispatch queue
	DispatchWorkers int `mapstructure:"dispatch_workers" json:"dispatch_workers" validate:"gte=1"`
	// DispatchBuffer is the depth of the inbound message dispatch queue
	DispatchBuffer int `mapstructure:"dispatch_buffer" json:"dispatch_buffer" validate:"gte=1"`
}

// ===============================================================================
// Station Related Config

// StationConfig defines station reconciliation parameters
type StationConfig struct {
	// ReconcileInterval is the duration between station reconciliation
	// sweeps in seconds
	ReconcileInterval int `mapstructure:"reconcile_interval_sec" json:"reconcile_interval_sec" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the broker server
type SystemConfig struct {
	// Redis are the Redis related config parameters
	Redis RedisConfig `mapstructure:"redis" json:"redis" validate:"required,dive"`
	// HTTP are the broker API server configs
	HTTP HTTPConfig `mapstructure:"http" json:"http" validate:"required,dive"`
	// Session are the per-connection session configs
	Session SessionConfig `mapstructure:"session" json:"session" validate:"required,dive"`
	// Station are the station reconciliation configs
	Station StationConfig `mapstructure:"station" json:"station" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default Redis settings
	viper.SetDefault("redis.server_uri", "redis://127.0.0.1:6379")
	viper.SetDefault("redis.connect_timeout_sec", 30)

	// Default HTTP server settings
	viper.SetDefault("http.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("http.server_config.listen_port", 8000)
	viper.SetDefault("http.server_config.read_timeout_sec", 60)
	viper.SetDefault("http.server_config.write_timeout_sec", 60)
	viper.SetDefault("http.advertised_host", "127.0.0.1:8000")
	viper.SetDefault("http.path_prefix", "/")
	viper.SetDefault("http.logging_config.request_id_header", "Stationhub-Request-ID")
	viper.SetDefault("http.logging_config.do_not_log_headers", []string{
		"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
	})

	// Default session settings
	viper.SetDefault("session.outbound_buffer", 64)
	viper.SetDefault("session.dispatch_workers", 4)
	viper.SetDefault("session.dispatch_buffer", 64)

	// Default station settings
	viper.SetDefault("station.reconcile_interval_sec", 30)
}
