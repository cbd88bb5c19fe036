package dragonbot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const (
	superstarRevertOK        = "ok"
	superstarRevertGone      = "member_left"
	superstarRevertForbidden = "forbidden"
	superstarRevertError     = "error"

	superstarRevertReason = "Superstarify expired"
)

//go:embed resources/superstars.yaml
var superstarsYAML []byte

// Superstar records a forced nickname, so it can be reverted once it
// expires.
type Superstar struct {
	ModelUintID
	GuildID string `gorm:"not null;index:idx_superstar_member" json:"guild_id"`
	UserID  string `gorm:"not null;index:idx_superstar_member" json:"user_id"`

	// PreviousNickname is the member's nickname before being
	// superstarified. Empty means they had none.
	PreviousNickname string `json:"previous_nickname"`
	ForcedNickname   string `gorm:"not null" json:"forced_nickname"`
	Reason           string `json:"reason,omitempty"`

	// ExpiresAt is when the nickname is reverted, in unix milliseconds.
	// Zero is permanent.
	ExpiresAt int64 `gorm:"index" json:"expires_at"`

	Reverted bool `gorm:"index;not null;default:false" json:"reverted"`
	ModelUnixTime
}

// Expiry returns ExpiresAt as a time, or the zero time if permanent
func (s Superstar) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt).UTC()
}

func loadSuperstarNames() ([]string, error) {
	var names struct {
		Names []string `yaml:"names"`
	}
	if err := yaml.Unmarshal(superstarsYAML, &names); err != nil {
		return nil, fmt.Errorf("error parsing superstar names: %w", err)
	}
	if len(names.Names) == 0 {
		return nil, errors.New("no superstar names found")
	}
	return names.Names, nil
}

// superstarDMContent is the message sent to a member when they're
// superstarified
func superstarDMContent(oldName string, newName string, expiry time.Time, reason string) string {
	expiryPart := "This change is permanent."
	if !expiry.IsZero() {
		expiryPart = fmt.Sprintf(
			"You will be unable to change your nickname until **<t:%d:R>**.",
			expiry.Unix(),
		)
	}
	var b strings.Builder
	fmt.Fprintf(
		&b,
		"Your previous nickname, **%s**, was so fabulous that we have decided "+
			"to give you a superstar name. Your new nickname will be **%s**.\n\n"+
			"%s If you're confused by this, please read our official nickname policy.",
		escapeMarkdown(oldName),
		escapeMarkdown(newName),
		expiryPart,
	)
	if reason != "" {
		fmt.Fprintf(&b, "\n\n**Reason:** %s", reason)
	}
	return b.String()
}

func superstarEmbed(user *discordgo.User, nickname string, expiry time.Time) *discordgo.MessageEmbed {
	var until string
	if !expiry.IsZero() {
		until = fmt.Sprintf(" until <t:%d:R>", expiry.Unix())
	}
	return &discordgo.MessageEmbed{
		Title: "Superstarified!",
		Color: colorOrange,
		Description: fmt.Sprintf(
			"%s has been superstarified! Their new name is **%s**%s.",
			user.Mention(),
			escapeMarkdown(nickname),
			until,
		),
	}
}

func (d *DragonBot) commandSuperstarify(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()
	opts := discordInteractionOptions(i)
	logger := handler.Logger()

	if err := deferReply(ctx, handler, true); err != nil {
		return err
	}

	member, ok, err := d.memberOption(ctx, handler, "member", true, true)
	if !ok {
		return err
	}

	outranked, err := d.outranksBot(i.GuildID, member)
	if err != nil {
		_ = followUp(ctx, handler, d.config.Discord.ErrorMessage, true)
		return err
	}
	if outranked {
		return followUp(
			ctx,
			handler,
			":x: I can't superstarify users with a higher or equal role.",
			true,
		)
	}

	duration := optionString(opts, "duration")
	if duration == "" {
		duration = d.config.Moderation.SuperstarDuration
	}
	var expiry time.Time
	if duration != "" {
		delta, parseErr := parseDurationString(duration)
		if parseErr == nil {
			expiry, parseErr = delta.After(timeNow().UTC())
		}
		switch {
		case errors.Is(parseErr, errDurationRange):
			return followUp(
				ctx,
				handler,
				fmt.Sprintf("`%s` results in a datetime outside the supported range.", duration),
				true,
			)
		case parseErr != nil:
			return followUp(
				ctx,
				handler,
				fmt.Sprintf(
					"Could not parse `%s`. Please use a valid duration string (e.g., 1h, 30m).",
					duration,
				),
				true,
			)
		}
	}

	reason := optionString(opts, "reason")
	oldName := displayName(member)
	forced := d.superstarNames[randIntN(len(d.superstarNames))]

	err = d.discord.session.GuildMemberNickname(
		i.GuildID,
		member.User.ID,
		forced,
		auditLogOptions(reason)...,
	)
	switch {
	case isForbidden(err):
		return followUp(
			ctx,
			handler,
			":x: I don't have permission to change this user's nickname.",
			true,
		)
	case err != nil:
		_ = followUp(ctx, handler, fmt.Sprintf(":x: Failed to change nickname: %v", err), true)
		return err
	}

	record := &Superstar{
		GuildID:          i.GuildID,
		UserID:           member.User.ID,
		PreviousNickname: member.Nick,
		ForcedNickname:   forced,
		Reason:           reason,
	}
	if !expiry.IsZero() {
		record.ExpiresAt = expiry.UnixMilli()
	}
	if err = d.saveSuperstar(ctx, record); err != nil {
		// the nickname was already changed, so carry on without a
		// scheduled revert
		logger.ErrorContext(ctx, "error saving superstar", tint.Err(err))
	}

	dm := superstarDMContent(oldName, forced, expiry, reason)
	channel, err := d.discord.session.UserChannelCreate(member.User.ID)
	if err == nil {
		_, err = d.discord.session.ChannelMessageSend(channel.ID, dm)
	}
	switch {
	case isForbidden(err):
		logger.WarnContext(
			ctx,
			"unable to DM superstarified user, they may have DMs disabled",
			"target_id", member.User.ID,
		)
	case err != nil:
		logger.ErrorContext(ctx, "error sending superstarify DM", tint.Err(err))
	}

	logger.InfoContext(
		ctx,
		"superstarified member",
		"target_id", member.User.ID,
		"nickname", forced,
		"expiry", expiry,
	)
	return followUpEmbed(ctx, handler, superstarEmbed(member.User, forced, expiry), true)
}

// saveSuperstar stores a new superstar record. If the member is already
// superstarified, the existing record is superseded, carrying over its
// previous nickname so the original one is what gets restored.
func (d *DragonBot) saveSuperstar(ctx context.Context, record *Superstar) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			var existing Superstar
			err := tx.Where(
				"guild_id = ? AND user_id = ? AND reverted = ?",
				record.GuildID,
				record.UserID,
				false,
			).Order("id desc").First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return err
			default:
				record.PreviousNickname = existing.PreviousNickname
				if err = tx.Model(&Superstar{}).Where(
					"guild_id = ? AND user_id = ? AND reverted = ?",
					record.GuildID,
					record.UserID,
					false,
				).Update("reverted", true).Error; err != nil {
					return err
				}
			}
			return tx.Create(record).Error
		},
	)
}

// activeSuperstars returns the superstar records that haven't been
// reverted yet
func (d *DragonBot) activeSuperstars(ctx context.Context) ([]Superstar, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	var superstars []Superstar
	err := d.db.WithContext(ctx).
		Where("reverted = ?", false).
		Order("id asc").
		Find(&superstars).Error
	return superstars, err
}

// revertExpiredSuperstars restores the previous nickname of each
// superstar whose expiry has passed. Records are marked reverted unless
// the failure looks transient, in which case the next run retries.
func (d *DragonBot) revertExpiredSuperstars(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	logger := d.logger.With(loggerNameKey, "superstar_reaper")

	var expired []Superstar
	err := d.db.WithContext(ctx).Where(
		"reverted = ? AND expires_at > 0 AND expires_at <= ?",
		false,
		timeNow().UnixMilli(),
	).Find(&expired).Error
	if err != nil {
		return fmt.Errorf("error finding expired superstars: %w", err)
	}

	var errs []error
	for _, s := range expired {
		revertErr := d.discord.session.GuildMemberNickname(
			s.GuildID,
			s.UserID,
			s.PreviousNickname,
			discordgo.WithAuditLogReason(superstarRevertReason),
		)

		status := superstarRevertOK
		switch {
		case revertErr == nil:
		case restErrorCode(revertErr) == discordgo.ErrCodeUnknownMember,
			restErrorStatus(revertErr) == http.StatusNotFound:
			status = superstarRevertGone
		case isForbidden(revertErr):
			status = superstarRevertForbidden
		default:
			status = superstarRevertError
		}
		superstarsRevertedTotal.WithLabelValues(status).Inc()

		if status == superstarRevertError {
			logger.ErrorContext(
				ctx,
				"error reverting superstar nickname",
				"superstar", s.ID,
				"user_id", s.UserID,
				tint.Err(revertErr),
			)
			errs = append(errs, revertErr)
			continue
		}

		logger.InfoContext(
			ctx,
			"reverted superstar",
			"superstar", s.ID,
			"guild_id", s.GuildID,
			"user_id", s.UserID,
			"status", status,
		)
		if updErr := d.db.WithContext(ctx).Model(&s).Update("reverted", true).Error; updErr != nil {
			errs = append(errs, updErr)
		}
	}
	return errors.Join(errs...)
}
