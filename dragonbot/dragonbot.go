package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/DragonSenseiGuy/dragon-bot/dragonbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// DragonBot ties together the discord session, slash command handlers,
// the daily AI quota, the admin API and the scheduler.
type DragonBot struct {
	config *Config

	db *gorm.DB

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	discord      *Discord
	ai           *AI
	externalAPIs *ExternalAPIs

	// quota gates /ask-ai and /generate-image
	quota *quota.Counter

	// redis is only set when using the redis quota backend
	redis redis.UniversalClient

	api *API

	// Provides a webhook endpoint to use to receive Discord
	// interactions when the websocket/gateway isn't being used
	discordWebhookServer *DiscordWebhookServer

	// Handler for interactions received via webhook
	webhookInteractionHandler gin.HandlerFunc

	scheduler *cron.Cron

	commands       map[string]*slashCommand
	jokes          *jokeSet
	superstarNames []string

	// getInteractionHandlerFunc returns the InteractionHandler for
	// interactions received via the gateway
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting up
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// interactionsInProgress is the number of interactions currently
	// being handled
	interactionsInProgress atomic.Int64
}

func New(config *Config) (*DragonBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	d := &DragonBot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		signalStop:    make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	RegisterMetrics()

	d.logHandler = newLogHandler(d.config.LogLevel)
	d.logger = slog.New(d.logHandler)
	slog.SetDefault(d.logger)

	d.ai = newAI(
		config.AI,
		config.HTTPClient,
		slog.New(newLogHandler(config.AI.LogLevel)).With(loggerNameKey, "ai"),
	)
	d.externalAPIs = newExternalAPIs(
		config.ExternalAPIs,
		config.HTTPClient,
		d.logger.With(loggerNameKey, "external_api"),
	)

	jokes, err := loadJokes()
	if err != nil {
		errs = append(errs, err)
	}
	d.jokes = jokes

	names, err := loadSuperstarNames()
	if err != nil {
		errs = append(errs, err)
	}
	d.superstarNames = names

	d.config.Discord.httpClient = d.config.HTTPClient
	disc, err := newDiscord(d.config.Discord)
	if err != nil {
		errs = append(errs, err)
		return d, errors.Join(errs...)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(d.config.Discord.DiscordGoLogLevel),
	)
	disc.logger = slog.New(newLogHandler(d.config.Discord.LogLevel)).With(
		loggerNameKey,
		"discord",
	)
	d.discord = disc
	d.commands = d.newCommands()

	api, err := newAPI(d, config.API)
	errs = append(errs, err)
	d.api = api

	if config.Discord.WebhookServer.Enabled {
		webhookServer, e := newWebhookServer(d, config.Discord.WebhookServer)
		errs = append(errs, e)
		d.discordWebhookServer = webhookServer
	}

	return d, errors.Join(errs...)
}

func (d *DragonBot) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

// Stop signals a running bot to shut down
func (d *DragonBot) Stop() {
	select {
	case d.signalStop <- struct{}{}:
	default:
	}
}

// Run starts the bot, blocking until ctx is canceled, Stop is called or
// one of the servers fails. It then shuts down gracefully, bounded by
// [Config.ShutdownTimeout].
func (d *DragonBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))

	// in-flight interaction handlers
	runtimeWG := &sync.WaitGroup{}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	if err := d.initRun(startCtx, ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return errors.Join(err, d.closeConnections(ctx))
	}
	logger.InfoContext(ctx, "init complete")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			return ignoreServerClosed(d.api.Serve(gctx))
		},
	)

	if d.discordWebhookServer != nil {
		d.webhookInteractionHandler = webhookReceiveHandler(gctx, d, runtimeWG)
		g.Go(
			func() error {
				return ignoreServerClosed(d.discordWebhookServer.Serve(gctx))
			},
		)
	} else if !d.config.Discord.GatewayEnabled {
		logger.WarnContext(ctx, "discord gateway and webhook server disabled")
	}

	if d.config.Discord.GatewayEnabled {
		logger.InfoContext(ctx, "connecting to discord")
		if err := d.discord.session.Open(); err != nil {
			logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
			cancel()
			return errors.Join(
				fmt.Errorf("error connecting to discord: %w", err),
				g.Wait(),
				d.shutdown(ctx, runtimeWG),
			)
		}
	}

	d.scheduler.Start()

	select {
	case d.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready")

	// block until something cancels the runtime context - generally
	// an interrupt, or a server failing
	<-gctx.Done()
	cancel()

	shutdownErr := d.shutdown(ctx, runtimeWG)
	return errors.Join(g.Wait(), shutdownErr)
}

func ignoreServerClosed(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// initRun connects to the database, builds the quota counter, sets up
// the discord session and scheduler, and registers slash commands if
// configured to
func (d *DragonBot) initRun(
	startCtx context.Context,
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	d.logger.Debug("initializing DB...")
	if err := d.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	if d.quota == nil {
		if err := d.initQuota(startCtx); err != nil {
			return fmt.Errorf("error initializing quota: %w", err)
		}
	}

	if err := d.initDiscordSession(ctx, runtimeWG); err != nil {
		return err
	}

	if err := d.initScheduler(ctx); err != nil {
		return fmt.Errorf("error initializing scheduler: %w", err)
	}

	if d.config.Discord.RegisterCommands {
		if _, err := d.RegisterCommands(discordgo.WithContext(startCtx)); err != nil {
			return fmt.Errorf("error registering commands: %w", err)
		}
	}
	return nil
}

func (d *DragonBot) initDB(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	gormLogger := newGORMLogger(
		newLogHandler(d.config.DatabaseLogLevel),
		d.config.DatabaseSlowThreshold,
	)
	db, err := openDB(ctx, d.config.DatabaseType, d.config.Database, gormLogger)
	if err != nil {
		return err
	}
	d.db = db
	return nil
}

// initQuota builds the daily quota counter on the configured backend
func (d *DragonBot) initQuota(ctx context.Context) error {
	cfg := d.config.Quota
	logger := slog.New(newLogHandler(cfg.LogLevel))

	var store quota.Store
	switch cfg.Backend {
	case quotaBackendFile:
		fileStore, err := quota.NewFileStore(cfg.Path)
		if err != nil {
			return err
		}
		store = fileStore
	case quotaBackendDatabase:
		store = quota.NewGormStore(d.db, cfg.Name)
	case quotaBackendRedis:
		client := redis.NewUniversalClient(
			&redis.UniversalOptions{
				Addrs:    []string{cfg.Redis.Addr},
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
		)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("error connecting to redis: %w", err)
		}
		d.redis = client
		store = quota.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Name)
	default:
		return fmt.Errorf("unsupported quota backend: %q", cfg.Backend)
	}

	counter, err := quota.New(store, cfg.Config, logger)
	if err != nil {
		return err
	}
	d.quota = counter
	d.logger.InfoContext(
		ctx,
		"quota initialized",
		"backend", cfg.Backend,
		"name", counter.Name(),
		"ceiling", counter.Ceiling(),
	)
	return nil
}

// QuotaUsage reports today's usage from the configured quota backend,
// initializing the backend if the bot isn't running.
func (d *DragonBot) QuotaUsage(ctx context.Context) (quota.Usage, error) {
	if d.quota == nil {
		if d.config.Quota.Backend == quotaBackendDatabase {
			if err := d.initDB(ctx); err != nil {
				return quota.Usage{}, err
			}
		}
		if err := d.initQuota(ctx); err != nil {
			return quota.Usage{}, err
		}
	}
	return d.quota.Usage(ctx)
}

func (d *DragonBot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := d.logger.With(loggerNameKey, "discord_session")

	if d.discord.session == nil {
		disc, discErr := d.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		d.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)
	d.discord.removeHandlers()

	if d.getInteractionHandlerFunc == nil {
		d.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     d.discord.session,
				interaction: i,
				logger: d.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}

	d.discord.addHandler(d.discord.handlerConnect())
	d.discord.addHandler(d.discord.handlerDisconnect())
	d.discord.addHandler(d.discord.handlerReady())
	d.discord.addHandler(
		func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			handler := d.getInteractionHandlerFunc(ctx, i)
			runtimeWG.Add(1)
			go func() {
				defer runtimeWG.Done()
				d.handleInteraction(ctx, handler)
			}()
		},
	)
	return nil
}

// initScheduler sets up the superstar reaper and the daily quota report
func (d *DragonBot) initScheduler(ctx context.Context) error {
	logger := d.logger.With(loggerNameKey, "scheduler")
	d.scheduler = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)

	_, err := d.scheduler.AddFunc(
		d.config.Moderation.SuperstarReapSchedule, func() {
			if e := d.revertExpiredSuperstars(ctx); e != nil {
				logger.ErrorContext(ctx, "error reverting superstars", tint.Err(e))
			}
		},
	)
	if err != nil {
		return fmt.Errorf("invalid superstar reap schedule: %w", err)
	}

	if d.config.Quota.ReportSchedule != "" {
		_, err = d.scheduler.AddFunc(
			d.config.Quota.ReportSchedule, func() {
				d.reportQuotaUsage(ctx, logger)
			},
		)
		if err != nil {
			return fmt.Errorf("invalid quota report schedule: %w", err)
		}
	}
	return nil
}

// reportQuotaUsage logs the day's quota consumption
func (d *DragonBot) reportQuotaUsage(ctx context.Context, logger *slog.Logger) {
	usage, err := d.QuotaUsage(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error getting quota usage", tint.Err(err))
		return
	}
	logger.InfoContext(
		ctx,
		"daily quota usage",
		"name", usage.Name,
		"date", usage.Date,
		"count", usage.Count,
		"ceiling", usage.Ceiling,
		"remaining", usage.Remaining,
	)
}

// shutdown stops the scheduler and discord session, waits (up to
// [Config.ShutdownTimeout]) for in-flight interactions, then closes
// the database and redis connections.
func (d *DragonBot) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	d.logger.WarnContext(ctx, "shutting down")
	defer func() {
		select {
		case d.eventShutdown <- struct{}{}:
		default:
		}
	}()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(d.config.ShutdownTimeout)
	d.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", d.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
		"interactions_in_progress", d.interactionsInProgress.Load(),
	)

	var errs []error

	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}

	if d.discord != nil && d.discord.session != nil {
		d.discord.removeHandlers()
		if d.config.Discord.GatewayEnabled {
			if err := d.discord.session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
			}
		}
	}

	doneCh := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		d.logger.InfoContext(
			ctx,
			"finished handling in-flight interactions",
			"duration", time.Since(shutdownStart),
		)
	case <-time.After(time.Until(shutdownDeadline)):
		d.logger.WarnContext(
			ctx,
			"shutdown timed out waiting on interactions",
			"interactions_in_progress", d.interactionsInProgress.Load(),
		)
		errs = append(errs, errors.New("interactions did not finish before shutdown timeout"))
	}

	errs = append(errs, d.closeConnections(ctx))
	return errors.Join(errs...)
}

func (d *DragonBot) closeConnections(ctx context.Context) error {
	var errs []error
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing redis: %w", err))
		}
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", closeErr))
			}
		}
	}
	if len(errs) > 0 {
		d.logger.ErrorContext(ctx, "error closing connections", tint.Err(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

// handleInteraction logs and dispatches a single interaction, regardless
// of whether it arrived via the gateway or webhook
func (d *DragonBot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	d.interactionsInProgress.Add(1)
	defer d.interactionsInProgress.Add(-1)

	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)
	defer func() {
		if rc := recover(); rc != nil {
			commandPanicsTotal.Inc()
			d.handleRecover(ctx, rc)
		}
	}()

	i := handler.GetInteraction()
	discordUser := getDiscordUser(i)
	if discordUser == nil && i.Type != discordgo.InteractionPing {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if discordUser != nil {
		logger = logger.With(slog.Group("user", userLogAttrs(discordUser)...))
		ctx = WithLogger(ctx, logger)
		logger.InfoContext(ctx, "received new interaction")

		if interactionLog, err := newInteractionLog(i, discordUser, handler); err != nil {
			logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
		} else if d.db != nil {
			if createErr := d.db.WithContext(ctx).Create(interactionLog).Error; createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}

		if discordUser.Bot {
			logger.WarnContext(ctx, "user is bot, ignoring")
			return
		}
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
	case discordgo.InteractionApplicationCommand:
		d.handleApplicationCommand(ctx, handler)
	case discordgo.InteractionMessageComponent:
		d.handleMessageComponent(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (*DragonBot) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if nerr, ok := rc.(string); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(nerr)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}
