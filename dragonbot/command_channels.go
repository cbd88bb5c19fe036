package dragonbot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

func (d *DragonBot) commandCreateChannel(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	opts := discordInteractionOptions(i)
	name := optionString(opts, "channel_name")
	categoryID := optionString(opts, "category_id")
	topic := optionString(opts, "description")

	if _, err := strconv.ParseUint(categoryID, 10, 64); err != nil {
		return reply(ctx, handler, "Category ID must be a valid number.", false)
	}

	// an ID that isn't one of this guild's categories creates the
	// channel without a parent
	var parentID string
	if category, err := d.discord.session.Channel(categoryID); err == nil &&
		category.GuildID == i.GuildID &&
		category.Type == discordgo.ChannelTypeGuildCategory {
		parentID = category.ID
	}

	_, err := d.discord.session.GuildChannelCreateComplex(
		i.GuildID,
		discordgo.GuildChannelCreateData{
			Name:     name,
			Type:     discordgo.ChannelTypeGuildText,
			Topic:    topic,
			ParentID: parentID,
		},
	)
	switch {
	case isForbidden(err):
		return reply(ctx, handler, "I don't have permission to create channels here.", false)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf("An error occurred: %s", err), false)
		return err
	}
	return reply(
		ctx,
		handler,
		fmt.Sprintf("Text channel \"%s\" created successfully!", name),
		false,
	)
}

func (d *DragonBot) commandDeleteChannel(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	channelID := optionString(discordInteractionOptions(i), "channel_id")
	if _, err := strconv.ParseUint(channelID, 10, 64); err != nil {
		return reply(ctx, handler, "Channel ID must be a valid number.", false)
	}

	notFound := fmt.Sprintf("Channel with ID \"%s\" not found.", channelID)
	channel, err := d.discord.session.Channel(channelID)
	switch {
	case restErrorCode(err) == discordgo.ErrCodeUnknownChannel,
		restErrorStatus(err) == http.StatusNotFound:
		return reply(ctx, handler, notFound, false)
	case isForbidden(err):
		return reply(ctx, handler, "I don't have permission to delete channels here.", false)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf("An error occurred: %s", err), false)
		return err
	case channel.GuildID != i.GuildID:
		return reply(ctx, handler, notFound, false)
	}

	_, err = d.discord.session.ChannelDelete(channel.ID)
	switch {
	case isForbidden(err):
		return reply(ctx, handler, "I don't have permission to delete channels here.", false)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf("An error occurred: %s", err), false)
		return err
	}
	return reply(
		ctx,
		handler,
		fmt.Sprintf("Text channel \"%s\" deleted successfully!", channel.Name),
		false,
	)
}

func (d *DragonBot) commandSync(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	guild, err := d.discord.session.Guild(i.GuildID)
	if err != nil {
		_ = reply(ctx, handler, d.config.Discord.ErrorMessage, true)
		return fmt.Errorf("error fetching guild: %w", err)
	}
	if u == nil || guild.OwnerID != u.ID {
		return reply(ctx, handler, "You must be the guild owner to use this command.", false)
	}

	if err = deferReply(ctx, handler, false); err != nil {
		return err
	}
	if _, err = d.RegisterCommands(); err != nil {
		_ = followUp(ctx, handler, d.config.Discord.ErrorMessage, false)
		return err
	}
	return followUp(ctx, handler, "Slash commands synced!", false)
}
