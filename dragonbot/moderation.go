package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// defaultTimeoutDuration is used by /timeout when no duration is given
	defaultTimeoutDuration = time.Hour

	// timeoutExpiryLayout matches how the expiry is shown to moderators
	timeoutExpiryLayout = "2006-01-02 15:04:05-07:00"

	replyNotOnServer = ":x: The user doesn't appear to be on the server."
	replyDMFailed    = " (Could not send DM to user)"
)

var userMentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)

// moderationAction describes kick/ban, which share the same flow
type moderationAction struct {
	verb      string // "kick"
	pastTense string // "kicked"
	apply     func(guildID string, userID string, reason string) error
}

// memberOption resolves the member given as a user option, fetching them
// from the guild. ok is false (and the user told) when they aren't a
// member.
func (d *DragonBot) memberOption(
	ctx context.Context,
	handler InteractionHandler,
	name string,
	ephemeral bool,
	deferred bool,
) (member *discordgo.Member, ok bool, err error) {
	i := handler.GetInteraction()
	userID := optionString(discordInteractionOptions(i), name)

	respond := func(content string) error {
		if deferred {
			return followUp(ctx, handler, content, ephemeral)
		}
		return reply(ctx, handler, content, ephemeral)
	}

	if userID == "" {
		return nil, false, respond(replyNotOnServer)
	}

	member, err = d.discord.session.GuildMember(i.GuildID, userID)
	switch {
	case restErrorCode(err) == discordgo.ErrCodeUnknownMember,
		restErrorCode(err) == discordgo.ErrCodeUnknownUser,
		restErrorStatus(err) == http.StatusNotFound:
		return nil, false, respond(replyNotOnServer)
	case err != nil:
		_ = respond(d.config.Discord.ErrorMessage)
		return nil, false, fmt.Errorf("error fetching member: %w", err)
	}
	if member.User == nil {
		member.User = &discordgo.User{ID: userID}
	}
	return member, true, nil
}

// topRolePosition returns the position of the member's highest role.
// Members without roles are at the position of @everyone (0).
func topRolePosition(member *discordgo.Member, positions map[string]int) int {
	top := 0
	for _, roleID := range member.Roles {
		if pos, ok := positions[roleID]; ok && pos > top {
			top = pos
		}
	}
	return top
}

// outranksBot reports whether the target's highest role is at or above
// the bot's highest role, in which case the bot can't moderate them
func (d *DragonBot) outranksBot(guildID string, target *discordgo.Member) (bool, error) {
	botID := d.discord.BotUserID()
	if botID == "" {
		return false, errors.New("bot user ID unknown")
	}

	roles, err := d.discord.session.GuildRoles(guildID)
	if err != nil {
		return false, fmt.Errorf("error fetching guild roles: %w", err)
	}
	positions := make(map[string]int, len(roles))
	for _, role := range roles {
		positions[role.ID] = role.Position
	}

	botMember, err := d.discord.session.GuildMember(guildID, botID)
	if err != nil {
		return false, fmt.Errorf("error fetching bot member: %w", err)
	}
	return topRolePosition(target, positions) >= topRolePosition(botMember, positions), nil
}

// auditLogOptions attaches the reason to the audit log entry, if given
func auditLogOptions(reason string) []discordgo.RequestOption {
	if reason == "" {
		return nil
	}
	return []discordgo.RequestOption{discordgo.WithAuditLogReason(reason)}
}

// timeoutExpiry resolves the /timeout duration option. ISO-8601
// datetimes are tried first, then duration strings. msg is set when the
// input can't be used.
func timeoutExpiry(now time.Time, input string) (expiry time.Time, msg string) {
	if input == "" {
		return now.Add(defaultTimeoutDuration), ""
	}
	if t, err := parseISODateTime(input); err == nil {
		return t, ""
	}

	delta, err := parseDurationString(input)
	if err != nil {
		if errors.Is(err, errDurationRange) {
			return time.Time{}, fmt.Sprintf(
				"`%s` results in a datetime outside the supported range.",
				input,
			)
		}
		return time.Time{}, fmt.Sprintf(
			"`%s` is not a valid duration string or ISO-8601 datetime.",
			input,
		)
	}
	expiry, err = delta.After(now)
	if err != nil {
		return time.Time{}, fmt.Sprintf(
			"`%s` results in a datetime outside the supported range.",
			input,
		)
	}
	return expiry, ""
}

func (d *DragonBot) commandTimeout(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	opts := discordInteractionOptions(i)
	logger := handler.Logger()

	member, ok, err := d.memberOption(ctx, handler, "user", true, false)
	if !ok {
		return err
	}

	now := timeNow().UTC()
	expiry, msg := timeoutExpiry(now, optionString(opts, "duration"))
	if msg != "" {
		return reply(ctx, handler, msg, true)
	}
	capped, expiry := capTimeoutDuration(now, expiry)

	outranked, err := d.outranksBot(i.GuildID, member)
	if err != nil {
		_ = reply(ctx, handler, d.config.Discord.ErrorMessage, true)
		return err
	}
	if outranked {
		return reply(
			ctx,
			handler,
			":x: I cannot timeout this user because their role is higher than or equal to mine.",
			true,
		)
	}

	reason := optionString(opts, "reason")
	err = d.discord.session.GuildMemberTimeout(
		i.GuildID,
		member.User.ID,
		&expiry,
		auditLogOptions(reason)...,
	)
	switch {
	case isForbidden(err):
		return reply(ctx, handler, ":x: I don't have permission to timeout this user.", true)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf(":x: Failed to timeout user: %v", err), true)
		return err
	}

	logger.InfoContext(
		ctx,
		"timed out member",
		"target_id", member.User.ID,
		"expiry", expiry,
		"capped", capped,
	)
	if err = reply(
		ctx,
		handler,
		fmt.Sprintf(
			":white_check_mark: Timed out %s for %s.",
			member.User.Mention(),
			expiry.Format(timeoutExpiryLayout),
		),
		true,
	); err != nil {
		return err
	}

	if capped {
		return followUp(
			ctx,
			handler,
			fmt.Sprintf(
				":warning: The timeout duration for %s was capped to 28 days.",
				member.User.Mention(),
			),
			true,
		)
	}
	return nil
}

// sendModerationDM tells the user they've been kicked/banned. It
// reports whether the DM was delivered.
func (d *DragonBot) sendModerationDM(
	ctx context.Context,
	logger *slog.Logger,
	user *discordgo.User,
	pastTense string,
	reason string,
) bool {
	embed := &discordgo.MessageEmbed{
		Title:       "You have been " + pastTense,
		Description: fmt.Sprintf("You have been %s from the server.", pastTense),
		Color:       colorRed,
	}
	if reason != "" {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "Reason", Value: reason}}
	}

	channel, err := d.discord.session.UserChannelCreate(user.ID)
	if err == nil {
		_, err = d.discord.session.ChannelMessageSendEmbed(channel.ID, embed)
	}
	switch {
	case isForbidden(err):
		logger.WarnContext(
			ctx,
			"unable to DM user, they may have DMs disabled",
			"action", pastTense,
			"target_id", user.ID,
		)
		return false
	case err != nil:
		logger.ErrorContext(
			ctx,
			"error sending moderation DM",
			"action", pastTense,
			"target_id", user.ID,
			tint.Err(err),
		)
		return false
	}
	return true
}

func (d *DragonBot) moderate(
	ctx context.Context,
	handler InteractionHandler,
	action moderationAction,
) error {
	i := handler.GetInteraction()
	reason := optionString(discordInteractionOptions(i), "reason")
	logger := handler.Logger()

	member, ok, err := d.memberOption(ctx, handler, "user", true, false)
	if !ok {
		return err
	}

	outranked, err := d.outranksBot(i.GuildID, member)
	if err != nil {
		_ = reply(ctx, handler, d.config.Discord.ErrorMessage, true)
		return err
	}
	if outranked {
		return reply(
			ctx,
			handler,
			fmt.Sprintf(
				":x: I cannot %s this user because their role is higher than or equal to mine.",
				action.verb,
			),
			true,
		)
	}

	// the DM has to go out while the bot still shares a server with them
	dmSent := d.sendModerationDM(ctx, logger, member.User, action.pastTense, reason)

	err = action.apply(i.GuildID, member.User.ID, reason)
	switch {
	case isForbidden(err):
		return reply(
			ctx,
			handler,
			fmt.Sprintf(":x: I don't have permission to %s this user.", action.verb),
			true,
		)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf(":x: Failed to %s user: %v", action.verb, err), true)
		return err
	}

	logger.InfoContext(ctx, "moderated member", "action", action.verb, "target_id", member.User.ID)
	content := fmt.Sprintf(
		":white_check_mark: %s %s.",
		strings.ToUpper(action.pastTense[:1])+action.pastTense[1:],
		member.User.Mention(),
	)
	if !dmSent {
		content += replyDMFailed
	}
	return reply(ctx, handler, content, true)
}

func (d *DragonBot) commandKick(ctx context.Context, handler InteractionHandler) error {
	return d.moderate(
		ctx,
		handler,
		moderationAction{
			verb:      "kick",
			pastTense: "kicked",
			apply: func(guildID string, userID string, reason string) error {
				return d.discord.session.GuildMemberDeleteWithReason(guildID, userID, reason)
			},
		},
	)
}

func (d *DragonBot) commandBan(ctx context.Context, handler InteractionHandler) error {
	return d.moderate(
		ctx,
		handler,
		moderationAction{
			verb:      "ban",
			pastTense: "banned",
			apply: func(guildID string, userID string, reason string) error {
				return d.discord.session.GuildBanCreateWithReason(guildID, userID, reason, 0)
			},
		},
	)
}

// parseUserArgument accepts a user ID or mention, returning the ID
func parseUserArgument(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if m := userMentionPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}

func (d *DragonBot) commandUnban(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	userID, ok := parseUserArgument(optionString(discordInteractionOptions(i), "user"))
	if !ok {
		return reply(ctx, handler, ":x: Please provide a valid user ID or mention.", true)
	}

	user, err := d.discord.session.User(userID)
	switch {
	case restErrorCode(err) == discordgo.ErrCodeUnknownUser,
		restErrorStatus(err) == http.StatusNotFound:
		return reply(ctx, handler, ":x: User not found.", true)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf(":x: Failed to fetch user: %v", err), true)
		return err
	}

	err = d.discord.session.GuildBanDelete(i.GuildID, user.ID)
	switch {
	case isForbidden(err):
		return reply(ctx, handler, ":x: I don't have permission to unban this user.", true)
	case err != nil:
		_ = reply(ctx, handler, fmt.Sprintf(":x: Failed to unban user: %v", err), true)
		return err
	}

	handler.Logger().InfoContext(ctx, "unbanned user", "target_id", user.ID)
	return reply(
		ctx,
		handler,
		fmt.Sprintf(":white_check_mark: Unbanned %s.", user.Mention()),
		true,
	)
}
