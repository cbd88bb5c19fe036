package dragonbot

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTargetID = "4000000000000000001"

// addTarget adds a member to the mock guild holding the given roles
func addTarget(t testing.TB, session *mockDiscordSession, roles ...string) *discordgo.Member {
	t.Helper()
	member := &discordgo.Member{
		User:  newDiscordUser(t, testTargetID),
		Nick:  "target nick",
		Roles: roles,
	}
	session.addMember(member)
	return member
}

func TestCommandTimeout(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	target := addTarget(t, session, "role-member")

	start := time.Now().UTC()
	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", testTargetID),
			stringOption("duration", "2h"),
			stringOption("reason", "spam"),
		),
	)

	resp := h.response(t)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.True(
		t,
		strings.HasPrefix(
			resp.Data.Content,
			":white_check_mark: Timed out "+target.User.Mention()+" for ",
		),
		resp.Data.Content,
	)
	h.requireNoFollowUp(t)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.timeouts, 1)
	call := session.timeouts[0]
	assert.Equal(t, testGuildID, call.GuildID)
	assert.Equal(t, testTargetID, call.UserID)
	assert.WithinDuration(t, start.Add(2*time.Hour), call.Until, time.Minute)
}

func TestCommandTimeout_DefaultDuration(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session)

	start := time.Now().UTC()
	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionAdministrator,
			userOption("user", testTargetID),
		),
	)
	_ = h.response(t)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.timeouts, 1)
	assert.WithinDuration(
		t,
		start.Add(defaultTimeoutDuration),
		session.timeouts[0].Until,
		time.Minute,
	)
}

func TestCommandTimeout_Capped(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	target := addTarget(t, session)

	start := time.Now().UTC()
	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", testTargetID),
			stringOption("duration", "30d"),
		),
	)

	assert.Contains(t, h.responseContent(t), "Timed out")
	capMsg := h.followUp(t)
	assert.Equal(
		t,
		":warning: The timeout duration for "+target.User.Mention()+" was capped to 28 days.",
		capMsg.Content,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, capMsg.Flags)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.timeouts, 1)
	until := session.timeouts[0].Until
	assert.True(t, until.Before(start.Add(maximumTimeout)))
	assert.WithinDuration(t, start.Add(maximumTimeout-time.Minute), until, time.Minute)
}

func TestCommandTimeout_InvalidDuration(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", testTargetID),
			stringOption("duration", "soon"),
		),
	)
	assert.Equal(
		t,
		"`soon` is not a valid duration string or ISO-8601 datetime.",
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Empty(t, session.timeouts)
}

func TestCommandTimeout_Outranked(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session, "role-admin")

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Equal(
		t,
		":x: I cannot timeout this user because their role is higher than or equal to mine.",
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Empty(t, session.timeouts)
}

func TestCommandTimeout_EqualRole(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session, "role-bot")

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Contains(t, h.responseContent(t), "higher than or equal to mine")
}

func TestCommandTimeout_NotMember(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", "4000000000000000999"),
		),
	)
	assert.Equal(t, replyNotOnServer, h.responseContent(t))
}

func TestCommandTimeout_Forbidden(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session)
	session.timeoutErr = restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandTimeout,
			discordgo.PermissionModerateMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Equal(t, ":x: I don't have permission to timeout this user.", h.responseContent(t))
}

func TestCommandKick(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	target := addTarget(t, session)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandKick,
			discordgo.PermissionKickMembers,
			userOption("user", testTargetID),
			stringOption("reason", "being rude"),
		),
	)
	assert.Equal(
		t,
		":white_check_mark: Kicked "+target.User.Mention()+".",
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{testTargetID}, session.kicks)

	embeds := session.dmEmbeds["dm-"+testTargetID]
	require.Len(t, embeds, 1)
	assert.Equal(t, "You have been kicked", embeds[0].Title)
	require.Len(t, embeds[0].Fields, 1)
	assert.Equal(t, "being rude", embeds[0].Fields[0].Value)
}

func TestCommandKick_DMFailed(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	target := addTarget(t, session)
	session.dmErr = restError(
		http.StatusForbidden,
		discordgo.ErrCodeCannotSendMessagesToThisUser,
	)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandKick,
			discordgo.PermissionKickMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Equal(
		t,
		":white_check_mark: Kicked "+target.User.Mention()+"."+replyDMFailed,
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{testTargetID}, session.kicks)
}

func TestCommandKick_Forbidden(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session)
	session.kickErr = restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandKick,
			discordgo.PermissionKickMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Equal(t, ":x: I don't have permission to kick this user.", h.responseContent(t))
}

func TestCommandBan(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	target := addTarget(t, session)

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandBan,
			discordgo.PermissionBanMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Equal(
		t,
		":white_check_mark: Banned "+target.User.Mention()+".",
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{testTargetID}, session.bans)
	require.Len(t, session.dmEmbeds["dm-"+testTargetID], 1)
	assert.Empty(t, session.dmEmbeds["dm-"+testTargetID][0].Fields)
}

func TestCommandBan_Outranked(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	addTarget(t, session, "role-admin")

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandBan,
			discordgo.PermissionBanMembers,
			userOption("user", testTargetID),
		),
	)
	assert.Equal(
		t,
		":x: I cannot ban this user because their role is higher than or equal to mine.",
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Empty(t, session.bans)
	assert.Empty(t, session.dmEmbeds)
}

func TestCommandUnban(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	session.mu.Lock()
	session.users[testTargetID] = newDiscordUser(t, testTargetID)
	session.mu.Unlock()

	h := runInteraction(
		t,
		bot,
		newGuildInteraction(
			t,
			commandUnban,
			discordgo.PermissionBanMembers,
			stringOption("user", "<@"+testTargetID+">"),
		),
	)
	assert.Equal(
		t,
		":white_check_mark: Unbanned <@"+testTargetID+">.",
		h.responseContent(t),
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{testTargetID}, session.unbans)
}

func TestCommandUnban_Errors(t *testing.T) {
	t.Parallel()

	t.Run(
		"invalid", func(t *testing.T) {
			t.Parallel()
			bot, _ := newTestBot(t)
			h := runInteraction(
				t,
				bot,
				newGuildInteraction(
					t,
					commandUnban,
					discordgo.PermissionBanMembers,
					stringOption("user", "somebody"),
				),
			)
			assert.Equal(
				t,
				":x: Please provide a valid user ID or mention.",
				h.responseContent(t),
			)
		},
	)

	t.Run(
		"unknown user", func(t *testing.T) {
			t.Parallel()
			bot, _ := newTestBot(t)
			h := runInteraction(
				t,
				bot,
				newGuildInteraction(
					t,
					commandUnban,
					discordgo.PermissionBanMembers,
					stringOption("user", "4000000000000000999"),
				),
			)
			assert.Equal(t, ":x: User not found.", h.responseContent(t))
		},
	)

	t.Run(
		"forbidden", func(t *testing.T) {
			t.Parallel()
			bot, session := newTestBot(t)
			session.users[testTargetID] = newDiscordUser(t, testTargetID)
			session.unbanErr = restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions)

			h := runInteraction(
				t,
				bot,
				newGuildInteraction(
					t,
					commandUnban,
					discordgo.PermissionBanMembers,
					stringOption("user", testTargetID),
				),
			)
			assert.Equal(
				t,
				":x: I don't have permission to unban this user.",
				h.responseContent(t),
			)
		},
	)
}

func TestParseUserArgument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		id    string
		ok    bool
	}{
		{input: "123456", id: "123456", ok: true},
		{input: "  123456 ", id: "123456", ok: true},
		{input: "<@123456>", id: "123456", ok: true},
		{input: "<@!123456>", id: "123456", ok: true},
		{input: "<#123456>", ok: false},
		{input: "12ab", ok: false},
		{input: "", ok: false},
	}
	for _, tc := range tests {
		id, ok := parseUserArgument(tc.input)
		assert.Equal(t, tc.ok, ok, "input: %q", tc.input)
		assert.Equal(t, tc.id, id, "input: %q", tc.input)
	}
}

func TestTopRolePosition(t *testing.T) {
	t.Parallel()
	positions := map[string]int{"a": 3, "b": 7}

	assert.Equal(t, 0, topRolePosition(&discordgo.Member{}, positions))
	assert.Equal(t, 7, topRolePosition(&discordgo.Member{Roles: []string{"a", "b"}}, positions))
	assert.Equal(t, 3, topRolePosition(&discordgo.Member{Roles: []string{"a", "gone"}}, positions))
}
