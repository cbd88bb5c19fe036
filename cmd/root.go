package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/DragonSenseiGuy/dragon-bot/dragonbot"
	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = dragonbot.DefaultConfig()
	configFile string
)

// logLevelKeys are the config keys holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.webhook_server.log_level",
	"api.log_level",
	"ai.log_level",
	"quota.log_level",
}

// legacyEnvVars are unprefixed environment variables still honored
// when the prefixed version isn't set
var legacyEnvVars = map[string]string{
	"discord.token": "BOT_TOKEN",
	"ai.token":      "AI_API_KEY",
}

var rootCmd = &cobra.Command{
	Use:   "dragonbot [flags]",
	Short: "Dragon Bot, a Discord bot with moderation, fun and AI commands",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
					LevelToStringHookFunc(),
				),
			),
			// lists from the environment replace the defaults rather
			// than overwriting them element by element
			func(dc *mapstructure.DecoderConfig) {
				dc.ZeroFields = true
			},
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("Unable to load env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", dragonbot.DefaultDatabase)
	viper.SetDefault("database_type", dragonbot.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", dragonbot.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", dragonbot.DefaultDatabaseLogLevel.String())
	viper.SetDefault("development", false)
	viper.SetDefault("log_level", dragonbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", dragonbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", dragonbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", dragonbot.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		dragonbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", dragonbot.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.gateway_enabled", true)
	viper.SetDefault("discord.register_commands", true)
	viper.SetDefault("discord.custom_status", dragonbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.error_message", dragonbot.DefaultDiscordErrorMessage)

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		dragonbot.DefaultDiscordWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault("discord.webhook_server.read_timeout", dragonbot.DefaultReadTimeout)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		dragonbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("discord.webhook_server.write_timeout", dragonbot.DefaultWriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", dragonbot.DefaultIdleTimeout)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		dragonbot.DefaultDiscordWebhookLogLevel.String(),
	)
	viper.SetDefault(
		"discord.webhook_server.ssl.tls_min_version",
		dragonbot.DefaultDiscordWebhookServerTLSminVersion,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))

	// AI config
	viper.SetDefault("ai.token", "")
	viper.SetDefault("ai.base_url", dragonbot.DefaultAIBaseURL)
	viper.SetDefault("ai.model", dragonbot.DefaultAIModel)
	viper.SetDefault("ai.image_model", dragonbot.DefaultAIImageModel)
	viper.SetDefault("ai.image_aspect_ratio", dragonbot.DefaultAIImageAspectRatio)
	viper.SetDefault("ai.system_prompt", dragonbot.DefaultAISystemPrompt)
	viper.SetDefault("ai.timeout", dragonbot.DefaultAITimeout)
	viper.SetDefault("ai.quota_message", dragonbot.DefaultAIQuotaMessage)
	viper.SetDefault("ai.quota_unavailable_message", dragonbot.DefaultAIQuotaUnavailableMessage)
	viper.SetDefault("ai.log_level", dragonbot.DefaultAILogLevel.String())

	// Quota config
	viper.SetDefault("quota.name", quota.DefaultName)
	viper.SetDefault("quota.ceiling", quota.DefaultCeiling)
	viper.SetDefault("quota.lock_timeout", quota.DefaultLockTimeout)
	viper.SetDefault("quota.backend", dragonbot.DefaultQuotaBackend)
	viper.SetDefault("quota.path", dragonbot.DefaultQuotaPath)
	viper.SetDefault("quota.report_schedule", dragonbot.DefaultQuotaReportSchedule)
	viper.SetDefault("quota.log_level", dragonbot.DefaultQuotaLogLevel.String())
	viper.SetDefault("quota.redis.addr", "")
	viper.SetDefault("quota.redis.db", 0)
	viper.SetDefault("quota.redis.key_prefix", quota.DefaultRedisKeyPrefix)
	fatalErr(viper.BindEnv("quota.redis.password"))

	// External APIs
	viper.SetDefault("external_apis.quote_url", dragonbot.DefaultExternalAPIQuoteURL)
	viper.SetDefault("external_apis.dad_joke_url", dragonbot.DefaultExternalAPIDadJokeURL)
	viper.SetDefault("external_apis.dog_url", dragonbot.DefaultExternalAPIDogURL)
	viper.SetDefault("external_apis.xkcd_url", dragonbot.DefaultExternalAPIXKCDURL)
	viper.SetDefault(
		"external_apis.requests_per_second",
		dragonbot.DefaultExternalAPIRequestsPerSecond,
	)
	viper.SetDefault("external_apis.timeout", dragonbot.DefaultExternalAPITimeout)
	viper.SetDefault("external_apis.cache_ttl", dragonbot.DefaultExternalAPICacheTTL)

	// Moderation
	viper.SetDefault("moderation.superstar_duration", dragonbot.DefaultSuperstarDuration)
	viper.SetDefault(
		"moderation.superstar_reap_schedule",
		dragonbot.DefaultSuperstarReapSchedule,
	)

	// API config
	viper.SetDefault("api.listen", dragonbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", dragonbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", dragonbot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", dragonbot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", dragonbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", dragonbot.DefaultIdleTimeout)
	viper.SetDefault("api.login_rate_limit", dragonbot.DefaultAPILoginRateLimit)
	viper.SetDefault("api.login_burst", dragonbot.DefaultAPILoginBurst)
	viper.SetDefault("api.autocert_domain", "")
	viper.SetDefault("api.autocert_cache_dir", dragonbot.DefaultAPIAutocertCacheDir)
	viper.SetDefault("api.ssl.tls_min_version", dragonbot.DefaultAPITLSMinVersion)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", dragonbot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", dragonbot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", dragonbot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", dragonbot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", dragonbot.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(dragonbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = dragonbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// the prefixed variable takes precedence over the legacy one
	for key, legacy := range legacyEnvVars {
		prefixed := strings.ToUpper(envPrefix + "_" + replacer.Replace(key))
		fatalErr(viper.BindEnv(key, prefixed, legacy))
	}

	// Convert values to correct types
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits // cobra registration
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load configuration from",
	)
}
