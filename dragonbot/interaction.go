package dragonbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// InteractionLog is a record of every interaction received, before
// any handling happens.
type InteractionLog struct {
	ModelUintID
	Method        DiscordInteractionReceiveMethod `json:"method" gorm:"type:string"` // webhook or gateway
	InteractionID string                          `json:"interaction_id" gorm:"not null;index"`
	Type          string                          `json:"type" gorm:"type:string"`
	Command       string                          `json:"command" gorm:"type:string"`
	UserID        string                          `json:"user_id" gorm:"not null"`
	Username      string                          `json:"username" gorm:"type:string"`
	AppID         string                          `json:"application_id" gorm:"type:string"`
	GuildID       string                          `json:"guild_id" gorm:"type:string"`
	ChannelID     string                          `json:"channel_id" gorm:"type:string"`
	Payload       string                          `json:"payload" gorm:"type:string"`
	CreatedAt     int64                           `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
		Method:        handler.InteractionReceiveMethod(),
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		interactionLog.Command = i.ApplicationCommandData().Name
	}
	return interactionLog, nil
}

// InteractionHandler defines the interface for handling Discord interactions.
// It provides methods for responding to interactions, editing the
// response and sending follow-ups.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// FollowUp sends an additional message after the initial response
	FollowUp(
		ctx context.Context,
		params *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// InteractionReceiveMethod returns the method used to receive the
	// interaction (webhook or gateway).
	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

var (
	_ InteractionHandler = GatewayHandler{}
	_ InteractionHandler = WebhookHandler{}
)

// GatewayHandler implements [InteractionHandler] when receiving interactions
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) FollowUp(
	ctx context.Context,
	params *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending follow-up", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "sent follow-up")
	}
	return msg, err
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// reply responds to the interaction with a plain message
func reply(
	ctx context.Context,
	handler InteractionHandler,
	content string,
	ephemeral bool,
) error {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
	)
}

// replyEmbed responds to the interaction with a single embed
func replyEmbed(
	ctx context.Context,
	handler InteractionHandler,
	embed *discordgo.MessageEmbed,
	ephemeral bool,
) error {
	data := &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
	)
}

// deferReply acknowledges the interaction, showing a 'thinking' state
// until a follow-up is sent
func deferReply(
	ctx context.Context,
	handler InteractionHandler,
	ephemeral bool,
) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: data,
		},
	)
}

// followUp sends a plain follow-up message
func followUp(
	ctx context.Context,
	handler InteractionHandler,
	content string,
	ephemeral bool,
) error {
	params := &discordgo.WebhookParams{Content: content}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := handler.FollowUp(ctx, params)
	return err
}

// followUpEmbed sends a follow-up message with a single embed
func followUpEmbed(
	ctx context.Context,
	handler InteractionHandler,
	embed *discordgo.MessageEmbed,
	ephemeral bool,
) error {
	params := &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err := handler.FollowUp(ctx, params)
	return err
}
