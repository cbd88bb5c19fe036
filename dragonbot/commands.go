package dragonbot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	commandPing          = "ping"
	commandAbout         = "about"
	commandCredits       = "credits"
	commandHelp          = "help"
	commandRPS           = "rps"
	commandJoke          = "joke"
	commandQuote         = "quote"
	commandDadJoke       = "dad-joke"
	commandDog           = "dog"
	commandXKCDFetch     = "xkcd-fetch"
	commandXKCDRandom    = "xkcd-random"
	commandXKCDLatest    = "xkcd-latest"
	commandAskAI         = "ask-ai"
	commandGenerateImage = "generate-image"
	commandCreateChannel = "create-channel"
	commandDeleteChannel = "delete-channel"
	commandSync          = "sync"
	commandTimeout       = "timeout"
	commandKick          = "kick"
	commandBan           = "ban"
	commandUnban         = "unban"
	commandSuperstarify  = "superstarify"
)

const (
	replyGuildOnly         = "This command can only be used in a server."
	replyMissingPermission = ":x: You don't have permission to use this command."
	replyUnknownCommand    = "Unknown command."
)

// commandHandlerFunc handles a single slash command invocation. Any
// user-facing reply is sent by the handler itself; a returned error is
// only logged.
type commandHandlerFunc func(ctx context.Context, handler InteractionHandler) error

type slashCommand struct {
	definition *discordgo.ApplicationCommand

	// guildOnly commands are refused outside of a server
	guildOnly bool

	// permission, if set, must be held by the invoking member
	permission int64

	handler commandHandlerFunc
}

func guildContexts() *[]discordgo.InteractionContextType {
	return &[]discordgo.InteractionContextType{discordgo.InteractionContextGuild}
}

func anyContexts() *[]discordgo.InteractionContextType {
	return &[]discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
		discordgo.InteractionContextPrivateChannel,
	}
}

// newCommands builds the set of slash commands the bot handles, keyed
// by command name
func (d *DragonBot) newCommands() map[string]*slashCommand {
	manageChannels := int64(discordgo.PermissionManageChannels)
	moderateMembers := int64(discordgo.PermissionModerateMembers)
	kickMembers := int64(discordgo.PermissionKickMembers)
	banMembers := int64(discordgo.PermissionBanMembers)
	promptMinLength := 1

	userOption := func(name string, description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        name,
			Description: description,
			Required:    true,
		}
	}
	stringOption := func(
		name string,
		description string,
		required bool,
	) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: description,
			Required:    required,
		}
	}

	commands := []*slashCommand{
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandPing,
				Description: "Shows the bot's latency",
				Contexts:    anyContexts(),
			},
			handler: d.commandPing,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandAbout,
				Description: "Shows information about the bot",
				Contexts:    anyContexts(),
			},
			handler: d.commandAbout,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandCredits,
				Description: "Shows the people and projects behind the bot",
				Contexts:    anyContexts(),
			},
			handler: d.commandCredits,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandHelp,
				Description: "Lists all available commands",
				Contexts:    anyContexts(),
			},
			handler: d.commandHelp,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandRPS,
				Description: "Play rock-paper-scissors against the bot",
				Contexts:    anyContexts(),
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "choice",
						Description: "Your move",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: rpsRock, Value: rpsRock},
							{Name: rpsPaper, Value: rpsPaper},
							{Name: rpsScissors, Value: rpsScissors},
						},
					},
				},
			},
			handler: d.commandRPS,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandJoke,
				Description: "Tells a random joke",
				Contexts:    anyContexts(),
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "category",
						Description: "Joke category",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: jokeCategoryNeutral, Value: jokeCategoryNeutral},
							{Name: jokeCategoryChuck, Value: jokeCategoryChuck},
							{Name: jokeCategoryAll, Value: jokeCategoryAll},
						},
					},
				},
			},
			handler: d.commandJoke,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandQuote,
				Description: "Shows an inspirational quote",
				Contexts:    anyContexts(),
			},
			handler: d.commandQuote,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandDadJoke,
				Description: "Tells a dad joke",
				Contexts:    anyContexts(),
			},
			handler: d.commandDadJoke,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandDog,
				Description: "Shows a random dog picture",
				Contexts:    anyContexts(),
			},
			handler: d.commandDog,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandXKCDFetch,
				Description: "Fetches an xkcd comic by number",
				Contexts:    anyContexts(),
				Options: []*discordgo.ApplicationCommandOption{
					stringOption(xkcdIDOption, "The comic number", true),
				},
			},
			handler: d.commandXKCDFetch,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandXKCDRandom,
				Description: "Fetches a random xkcd comic",
				Contexts:    anyContexts(),
			},
			handler: d.commandXKCDRandom,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandXKCDLatest,
				Description: "Fetches the latest xkcd comic",
				Contexts:    anyContexts(),
			},
			handler: d.commandXKCDLatest,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandAskAI,
				Description: "Ask the AI a question",
				Contexts:    anyContexts(),
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        aiPromptOption,
						Description: "What would you like to ask?",
						Required:    true,
						MinLength:   &promptMinLength,
					},
				},
			},
			handler: d.commandAskAI,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandGenerateImage,
				Description: "Generate an image from a prompt",
				Contexts:    anyContexts(),
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        aiPromptOption,
						Description: "Describe the image",
						Required:    true,
						MinLength:   &promptMinLength,
					},
				},
			},
			handler: d.commandGenerateImage,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandCreateChannel,
				Description:              "Creates a text channel",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &manageChannels,
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("channel_name", "Name of the new channel", true),
					stringOption("category_id", "ID of the category to create it under", true),
					stringOption("description", "Channel topic", true),
				},
			},
			guildOnly:  true,
			permission: manageChannels,
			handler:    d.commandCreateChannel,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandDeleteChannel,
				Description:              "Deletes a channel",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &manageChannels,
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("channel_id", "ID of the channel to delete", true),
				},
			},
			guildOnly:  true,
			permission: manageChannels,
			handler:    d.commandDeleteChannel,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:        commandSync,
				Description: "Re-registers the bot's slash commands (server owner only)",
				Contexts:    guildContexts(),
			},
			guildOnly: true,
			handler:   d.commandSync,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandTimeout,
				Description:              "Times out a member",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &moderateMembers,
				Options: []*discordgo.ApplicationCommandOption{
					userOption("user", "The member to time out"),
					stringOption(
						"duration",
						"Duration (ex: 1d12h, 30M) or ISO-8601 timestamp. Defaults to 1h",
						false,
					),
					stringOption("reason", "Reason for the timeout", false),
				},
			},
			guildOnly:  true,
			permission: moderateMembers,
			handler:    d.commandTimeout,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandKick,
				Description:              "Kicks a member",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &kickMembers,
				Options: []*discordgo.ApplicationCommandOption{
					userOption("user", "The member to kick"),
					stringOption("reason", "Reason for the kick", false),
				},
			},
			guildOnly:  true,
			permission: kickMembers,
			handler:    d.commandKick,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandBan,
				Description:              "Bans a member",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &banMembers,
				Options: []*discordgo.ApplicationCommandOption{
					userOption("user", "The member to ban"),
					stringOption("reason", "Reason for the ban", false),
				},
			},
			guildOnly:  true,
			permission: banMembers,
			handler:    d.commandBan,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandUnban,
				Description:              "Unbans a user",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &banMembers,
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("user", "User ID or mention", true),
				},
			},
			guildOnly:  true,
			permission: banMembers,
			handler:    d.commandUnban,
		},
		{
			definition: &discordgo.ApplicationCommand{
				Name:                     commandSuperstarify,
				Description:              "Gives a member a superstar nickname for a while",
				Contexts:                 guildContexts(),
				DefaultMemberPermissions: &moderateMembers,
				Options: []*discordgo.ApplicationCommandOption{
					userOption("member", "The member to superstarify"),
					stringOption("duration", "Duration (ex: 1h, 2d). Defaults to 1h", false),
					stringOption("reason", "Reason", false),
				},
			},
			guildOnly:  true,
			permission: moderateMembers,
			handler:    d.commandSuperstarify,
		},
	}

	m := make(map[string]*slashCommand, len(commands))
	for _, c := range commands {
		m[c.definition.Name] = c
	}
	return m
}

// applicationCommands returns the definitions of all commands, sorted
// by name
func (d *DragonBot) applicationCommands() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(d.commands))
	for _, c := range d.commands {
		defs = append(defs, c.definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// RegisterCommands overwrites the bot's registered slash commands
func (d *DragonBot) RegisterCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return d.discord.registerCommands(d.applicationCommands(), options...)
}

// handleApplicationCommand looks up and runs the handler for the
// invoked slash command
func (d *DragonBot) handleApplicationCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	name := i.ApplicationCommandData().Name

	cmd, ok := d.commands[name]
	if !ok {
		logger.WarnContext(ctx, "unknown command", "command", name)
		_ = reply(ctx, handler, replyUnknownCommand, true)
		return
	}

	commandsTotal.WithLabelValues(name, string(handler.InteractionReceiveMethod())).Inc()

	if cmd.guildOnly && i.GuildID == "" {
		_ = reply(ctx, handler, replyGuildOnly, true)
		return
	}
	if cmd.permission != 0 && !memberHasPermission(i.Member, cmd.permission) {
		logger.WarnContext(ctx, "member lacks permission", "command", name)
		_ = reply(ctx, handler, replyMissingPermission, true)
		return
	}

	start := time.Now()
	err := cmd.handler(ctx, handler)
	commandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.ErrorContext(ctx, "error handling command", "command", name, tint.Err(err))
	}
}

// handleMessageComponent routes button presses by custom ID prefix
func (d *DragonBot) handleMessageComponent(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	customID := i.MessageComponentData().CustomID
	prefix, _, _ := strings.Cut(customID, ":")

	var err error
	switch prefix {
	case helpCustomIDPrefix:
		err = d.componentHelpPage(ctx, handler)
	default:
		err = fmt.Errorf("unknown component custom id: %q", customID)
	}
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error handling component", tint.Err(err))
	}
}

// memberHasPermission reports whether the member holds the given
// permission, directly or via Administrator
func memberHasPermission(m *discordgo.Member, permission int64) bool {
	if m == nil {
		return false
	}
	if m.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return m.Permissions&permission == permission
}
