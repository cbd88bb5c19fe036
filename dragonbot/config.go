//nolint:lll // struct tags can't be split
package dragonbot

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix     = "DRAGONBOT_ENV_PREFIX"
	DefaultEnvPrefix       = "DB"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "dragonbot.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent              = discordgo.IntentsGuilds
	DefaultDiscordWebhookLogLevel            = slog.LevelInfo
	DefaultDiscordLogLevel                   = slog.LevelInfo
	DefaultDiscordgoLogLevel                 = slog.LevelWarn
	DefaultDiscordErrorMessage               = "sorry, something went wrong!"
	DefaultDiscordCustomStatus               = "/help"
	discordMaxMessageLength                  = 2000

	DefaultAIBaseURL          = "https://ai.hackclub.com/proxy/v1"
	DefaultAIModel            = "qwen/qwen3-32b"
	DefaultAIImageModel       = "google/gemini-2.5-flash-image"
	DefaultAIImageAspectRatio = "16:9"
	DefaultAISystemPrompt     = "You are Dragon Bot, a helpful assistant in a Discord server. Keep answers concise."
	DefaultAITimeout          = 2 * time.Minute
	DefaultAILogLevel         = slog.LevelInfo
	DefaultAIQuotaMessage     = "The daily AI usage limit has been reached. Try again tomorrow."

	DefaultAIQuotaUnavailableMessage = "AI commands are unavailable right now because usage can't be checked. Try again later."

	DefaultQuotaBackend        = quotaBackendFile
	DefaultQuotaPath           = "rate_limit.json"
	DefaultQuotaLogLevel       = slog.LevelInfo
	DefaultQuotaReportSchedule = "55 23 * * *"

	DefaultExternalAPIQuoteURL          = "https://zenquotes.io/api/random"
	DefaultExternalAPIDadJokeURL        = "https://icanhazdadjoke.com/"
	DefaultExternalAPIDogURL            = "https://dog.ceo/api/breeds/image/random"
	DefaultExternalAPIXKCDURL           = "https://xkcd.com"
	DefaultExternalAPIRequestsPerSecond = 5.0
	DefaultExternalAPITimeout           = 10 * time.Second
	DefaultExternalAPICacheTTL          = time.Hour

	DefaultSuperstarDuration     = "1h"
	DefaultSuperstarReapSchedule = "@every 1m"

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultAPIAutocertCacheDir     = "autocert"
	DefaultAPILoginRateLimit       = 1.0
	DefaultAPILoginBurst           = 5
	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelWarn
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = false
)

const (
	quotaBackendFile     = "file"
	quotaBackendDatabase = "database"
	quotaBackendRedis    = "redis"
)

type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// AI configures the OpenAI-compatible completion/image backend
	AI *AIConfig `yaml:"ai" mapstructure:"ai" json:"ai"`

	// Quota configures the daily limit on AI commands
	Quota *QuotaConfig `yaml:"quota" mapstructure:"quota" json:"quota"`

	// ExternalAPIs configures the joke/quote/dog/xkcd endpoints
	ExternalAPIs *ExternalAPIConfig `yaml:"external_apis" mapstructure:"external_apis" json:"external_apis"`

	Moderation *ModerationConfig `yaml:"moderation" mapstructure:"moderation" json:"moderation"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Development enables pprof endpoints and disables gin's recovery
	// middleware, so panics surface.
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// GatewayEnabled connects to the discord gateway. Disable when only
	// receiving interactions via the webhook server.
	GatewayEnabled bool `yaml:"gateway_enabled" mapstructure:"gateway_enabled" json:"gateway_enabled"`

	// RegisterCommands overwrites the registered slash commands on startup
	RegisterCommands bool `yaml:"register_commands" mapstructure:"register_commands" json:"register_commands"`

	// CustomStatus is set as the bot's custom status once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is sent when a command fails unexpectedly
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	httpClient *http.Client
}

// DiscordWebhookServerConfig represents the configuration for the Discord webhook server.
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// AIConfig configures the OpenAI-compatible API used by /ask-ai and
// /generate-image
type AIConfig struct {
	// API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL of the OpenAI-compatible API, without the trailing path
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Model used for chat completions
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// ImageModel is used for image generation
	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model" binding:"required"`

	// ImageAspectRatio is passed through to the image model
	ImageAspectRatio string `yaml:"image_aspect_ratio" mapstructure:"image_aspect_ratio" json:"image_aspect_ratio"`

	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt"`

	// Timeout for a single completion or image request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	// QuotaMessage is the reply sent when the daily quota is exhausted
	QuotaMessage string `yaml:"quota_message" mapstructure:"quota_message" json:"quota_message" binding:"required"`

	// QuotaUnavailableMessage is the reply sent when today's usage can't
	// be read, or the quota check times out
	QuotaUnavailableMessage string `yaml:"quota_unavailable_message" mapstructure:"quota_unavailable_message" json:"quota_unavailable_message" binding:"required"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// QuotaConfig configures the daily quota counter gating AI commands.
type QuotaConfig struct {
	quota.Config `yaml:",inline" mapstructure:",squash"`

	// Backend is where the counter is persisted: 'file', 'database' or 'redis'
	Backend string `yaml:"backend" mapstructure:"backend" json:"backend" binding:"oneof=file database redis"`

	// Path of the JSON file used by the 'file' backend
	Path string `yaml:"path" mapstructure:"path" json:"path" binding:"required_if=Backend file"`

	// ReportSchedule is a cron spec (UTC) for logging the day's usage.
	// Empty disables the report.
	ReportSchedule string `yaml:"report_schedule" mapstructure:"report_schedule" json:"report_schedule"`

	Redis RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// RedisConfig configures the connection used by the 'redis' quota backend
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr" json:"addr"`
	Password  string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
	DB        int    `yaml:"db" mapstructure:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix" json:"key_prefix"`
}

// ExternalAPIConfig configures the third-party APIs behind the fun commands
type ExternalAPIConfig struct {
	QuoteURL   string `yaml:"quote_url" mapstructure:"quote_url" json:"quote_url" binding:"required,url"`
	DadJokeURL string `yaml:"dad_joke_url" mapstructure:"dad_joke_url" json:"dad_joke_url" binding:"required,url"`
	DogURL     string `yaml:"dog_url" mapstructure:"dog_url" json:"dog_url" binding:"required,url"`
	XKCDURL    string `yaml:"xkcd_url" mapstructure:"xkcd_url" json:"xkcd_url" binding:"required,url"`

	// RequestsPerSecond limits outbound requests across all of the above
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"gt=0"`

	// Timeout for a single request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	// CacheTTL is how long fetched xkcd comics are cached
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl"`
}

// ModerationConfig configures the moderation commands
type ModerationConfig struct {
	// SuperstarDuration is used by /superstarify when no duration is given
	SuperstarDuration string `yaml:"superstar_duration" mapstructure:"superstar_duration" json:"superstar_duration" binding:"required"`

	// SuperstarReapSchedule is the cron spec for reverting expired
	// superstar nicknames
	SuperstarReapSchedule string `yaml:"superstar_reap_schedule" mapstructure:"superstar_reap_schedule" json:"superstar_reap_schedule" binding:"required"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// AutocertDomain, if set, requests certificates from Let's Encrypt
	// for this domain instead of loading SSL.Cert/SSL.Key
	AutocertDomain string `yaml:"autocert_domain" mapstructure:"autocert_domain" json:"autocert_domain"`

	// AutocertCacheDir stores ACME certificates between restarts
	AutocertCacheDir string `yaml:"autocert_cache_dir" mapstructure:"autocert_cache_dir" json:"autocert_cache_dir"`

	// LoginRateLimit is the number of authentication attempts allowed
	// per second, with LoginBurst as the bucket size
	LoginRateLimit float64 `yaml:"login_rate_limit" mapstructure:"login_rate_limit" json:"login_rate_limit"`
	LoginBurst     int     `yaml:"login_burst" mapstructure:"login_burst" json:"login_burst"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// Enabled reports whether a certificate and key were both provided
func (s SSLConfig) Enabled() bool {
	return s.Cert != "" && s.Key != ""
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(level)
	return v
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Enabled:       false,
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSminVersion,
				},
				LogLevel:          newLevelVar(DefaultDiscordWebhookLogLevel),
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayIntents:    DefaultDiscordGatewayIntent,
			GatewayEnabled:    true,
			RegisterCommands:  true,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
		},
		AI: &AIConfig{
			BaseURL:          DefaultAIBaseURL,
			Model:            DefaultAIModel,
			ImageModel:       DefaultAIImageModel,
			ImageAspectRatio: DefaultAIImageAspectRatio,
			SystemPrompt:     DefaultAISystemPrompt,
			Timeout:          DefaultAITimeout,
			QuotaMessage:     DefaultAIQuotaMessage,
			LogLevel:         newLevelVar(DefaultAILogLevel),

			QuotaUnavailableMessage: DefaultAIQuotaUnavailableMessage,
		},
		Quota: &QuotaConfig{
			Config: quota.Config{
				Name:        quota.DefaultName,
				Ceiling:     quota.DefaultCeiling,
				LockTimeout: quota.DefaultLockTimeout,
			},
			Backend:        DefaultQuotaBackend,
			Path:           DefaultQuotaPath,
			ReportSchedule: DefaultQuotaReportSchedule,
			Redis: RedisConfig{
				KeyPrefix: quota.DefaultRedisKeyPrefix,
			},
			LogLevel: newLevelVar(DefaultQuotaLogLevel),
		},
		ExternalAPIs: &ExternalAPIConfig{
			QuoteURL:          DefaultExternalAPIQuoteURL,
			DadJokeURL:        DefaultExternalAPIDadJokeURL,
			DogURL:            DefaultExternalAPIDogURL,
			XKCDURL:           DefaultExternalAPIXKCDURL,
			RequestsPerSecond: DefaultExternalAPIRequestsPerSecond,
			Timeout:           DefaultExternalAPITimeout,
			CacheTTL:          DefaultExternalAPICacheTTL,
		},
		Moderation: &ModerationConfig{
			SuperstarDuration:     DefaultSuperstarDuration,
			SuperstarReapSchedule: DefaultSuperstarReapSchedule,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			AutocertCacheDir:  DefaultAPIAutocertCacheDir,
			LoginRateLimit:    DefaultAPILoginRateLimit,
			LoginBurst:        DefaultAPILoginBurst,
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
