package dragonbot

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the discord session, gateway event handlers and slash
// command registration.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	publicKey                   ed25519.PublicKey
	connected                   atomic.Bool
	botUserID                   atomic.Value
	discordgoRemoveHandlerFuncs []func()
	mu                          sync.Mutex
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	d := &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}

	if config.WebhookServer.PublicKey != "" {
		publicKey, err := hex.DecodeString(config.WebhookServer.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("error decoding public key: %w", err)
		}
		if len(publicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf(
				"invalid public key length: %d (expected %d)",
				len(publicKey),
				ed25519.PublicKeySize,
			)
		}
		d.publicKey = ed25519.PublicKey(publicKey)
	}

	return d, nil
}

// newSession initializes a new Discord session with the configured
// token, HTTP client and log level.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// BotUserID returns the bot's own user ID, as reported by the gateway's
// Ready event. Before that (or when only receiving webhooks) the
// application ID is used, which is the same for bot applications.
func (d *Discord) BotUserID() string {
	if id, ok := d.botUserID.Load().(string); ok && id != "" {
		return id
	}
	return d.config.ApplicationID
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		var userID, username string
		if r.User != nil {
			userID = r.User.ID
			username = r.User.Username
			d.botUserID.Store(userID)
		}
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", userID, "username", username),
			"guilds", len(r.Guilds),
		)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error setting custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		discordEventsTotal.WithLabelValues("connect").Inc()
		d.connected.Store(true)
		d.logger.Info("Connected")
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		discordEventsTotal.WithLabelValues("disconnect").Inc()
		d.logger.Info("disconnected")
	}
}

// addHandler registers a gateway event handler, keeping its removal
// func so handlers can be detached on shutdown
func (d *Discord) addHandler(handler any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(handler),
	)
}

func (d *Discord) removeHandlers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rm := range d.discordgoRemoveHandlerFuncs {
		rm()
	}
	d.discordgoRemoveHandlerFuncs = []func(){}
}

// registerCommands sends the given commands to the discord bulk overwrite
// endpoint, for the configured guild (or globally, if no guild is set)
func (d *Discord) registerCommands(
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	d.logger.Info(
		"registered commands",
		"count", len(created),
		"guild_id", d.config.GuildID,
	)
	return created, nil
}

// DiscordSessionHandler defines the methods of `discordgo.Session` used
// by the bot, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// HeartbeatLatency is the latency of the last gateway heartbeat
	HeartbeatLatency() time.Duration

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// FollowupMessageCreate sends a follow-up message to an interaction
	// that's already been responded to
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)

	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)

	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	// GuildMemberTimeout times out the member until the given time. A nil
	// time removes an existing timeout.
	GuildMemberTimeout(
		guildID string,
		userID string,
		until *time.Time,
		options ...discordgo.RequestOption,
	) error

	// GuildMemberNickname sets the member's nickname. An empty nickname
	// resets it.
	GuildMemberNickname(
		guildID string,
		userID string,
		nickname string,
		options ...discordgo.RequestOption,
	) error

	GuildMemberDeleteWithReason(
		guildID string,
		userID string,
		reason string,
		options ...discordgo.RequestOption,
	) error

	GuildBanCreateWithReason(
		guildID string,
		userID string,
		reason string,
		days int,
		options ...discordgo.RequestOption,
	) error

	GuildBanDelete(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) error

	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)

	// UserChannelCreate creates (or returns the existing) DM channel with
	// the given user
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

var _ DiscordSessionHandler = DiscordSession{}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	err := d.session.InteractionRespond(interaction, resp, options...)
	if err != nil {
		d.logger.Error(
			"error responding to interaction",
			tint.Err(err),
			"interaction_id", interaction.ID,
		)
	}
	return err
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.InteractionResponseEdit(interaction, newresp, options...)
	if err != nil {
		d.logger.Error(
			"error editing interaction response",
			tint.Err(err),
			"interaction_id", interaction.ID,
		)
	}
	return msg, err
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.FollowupMessageCreate(interaction, wait, data, options...)
	if err != nil {
		d.logger.Error(
			"error sending follow-up message",
			tint.Err(err),
			"interaction_id", interaction.ID,
		)
	}
	return msg, err
}

func (d DiscordSession) Guild(
	guildID string,
	options ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) GuildRoles(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	return d.session.GuildRoles(guildID, options...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) GuildMemberTimeout(
	guildID string,
	userID string,
	until *time.Time,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberTimeout(guildID, userID, until, options...)
	if err != nil {
		d.logger.Error(
			"error timing out member",
			tint.Err(err),
			"guild_id", guildID,
			"user_id", userID,
		)
	}
	return err
}

func (d DiscordSession) GuildMemberNickname(
	guildID string,
	userID string,
	nickname string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberNickname(guildID, userID, nickname, options...)
	if err != nil {
		d.logger.Error(
			"error changing nickname",
			tint.Err(err),
			"guild_id", guildID,
			"user_id", userID,
		)
	}
	return err
}

func (d DiscordSession) GuildMemberDeleteWithReason(
	guildID string,
	userID string,
	reason string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberDeleteWithReason(guildID, userID, reason, options...)
	if err != nil {
		d.logger.Error(
			"error kicking member",
			tint.Err(err),
			"guild_id", guildID,
			"user_id", userID,
		)
	}
	return err
}

func (d DiscordSession) GuildBanCreateWithReason(
	guildID string,
	userID string,
	reason string,
	days int,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildBanCreateWithReason(guildID, userID, reason, days, options...)
	if err != nil {
		d.logger.Error(
			"error banning member",
			tint.Err(err),
			"guild_id", guildID,
			"user_id", userID,
		)
	}
	return err
}

func (d DiscordSession) GuildBanDelete(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildBanDelete(guildID, userID, options...)
	if err != nil {
		d.logger.Error(
			"error removing ban",
			tint.Err(err),
			"guild_id", guildID,
			"user_id", userID,
		)
	}
	return err
}

func (d DiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.GuildChannelCreateComplex(guildID, data, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) ChannelDelete(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ChannelDelete(channelID, options...)
}

func (d DiscordSession) User(
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.User, error) {
	return d.session.User(userID, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}
