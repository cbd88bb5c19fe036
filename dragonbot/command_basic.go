package dragonbot

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"
)

const (
	colorBlue   = 0x3498DB
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22

	githubURL      = "https://github.com/dragonsenseiguy/dragon-bot"
	creatorDiscord = "<@1374119550467051542>(dragonsenseiguy)"

	helpCommandsPerPage = 10
	helpCustomIDPrefix  = "help"
	helpPreviousLabel   = "◀️"
	helpNextLabel       = "▶️"

	rpsRock     = "rock"
	rpsPaper    = "paper"
	rpsScissors = "scissors"

	jokeCategoryNeutral = "neutral"
	jokeCategoryChuck   = "chuck"
	jokeCategoryAll     = "all"
)

var (
	// helpViewTimeout is how long help page buttons stay enabled
	helpViewTimeout = 60 * time.Second

	// randIntN picks bot moves and jokes
	randIntN = rand.IntN

	rpsBeats = map[string]string{
		rpsRock:     rpsScissors,
		rpsPaper:    rpsRock,
		rpsScissors: rpsPaper,
	}
	rpsMoves = []string{rpsRock, rpsPaper, rpsScissors}

	//go:embed resources/jokes.yaml
	jokesYAML []byte
)

type jokeSet struct {
	Neutral []string `yaml:"neutral"`
	Chuck   []string `yaml:"chuck"`
}

func loadJokes() (*jokeSet, error) {
	var jokes jokeSet
	if err := yaml.Unmarshal(jokesYAML, &jokes); err != nil {
		return nil, fmt.Errorf("error parsing jokes: %w", err)
	}
	if len(jokes.Neutral) == 0 || len(jokes.Chuck) == 0 {
		return nil, fmt.Errorf("joke set is missing a category")
	}
	return &jokes, nil
}

// pick returns a random joke from the given category. Unknown categories
// are treated as 'all'.
func (j *jokeSet) pick(category string) string {
	var pool []string
	switch category {
	case jokeCategoryNeutral:
		pool = j.Neutral
	case jokeCategoryChuck:
		pool = j.Chuck
	default:
		pool = make([]string, 0, len(j.Neutral)+len(j.Chuck))
		pool = append(pool, j.Neutral...)
		pool = append(pool, j.Chuck...)
	}
	return pool[randIntN(len(pool))]
}

func (d *DragonBot) commandPing(ctx context.Context, handler InteractionHandler) error {
	i := handler.GetInteraction()

	var processing time.Duration
	if created, err := discordgo.SnowflakeTimestamp(i.ID); err == nil {
		processing = time.Since(created)
	}
	latency := d.discord.session.HeartbeatLatency()

	embed := &discordgo.MessageEmbed{
		Title: "🏓 Pong!",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "Command processing time",
				Value: formatMilliseconds(processing),
			},
			{
				Name:  "Discord API latency",
				Value: formatMilliseconds(latency),
			},
		},
	}
	return replyEmbed(ctx, handler, embed, false)
}

func formatMilliseconds(d time.Duration) string {
	return fmt.Sprintf("%.3f ms", float64(d)/float64(time.Millisecond))
}

func (d *DragonBot) commandAbout(ctx context.Context, handler InteractionHandler) error {
	embed := &discordgo.MessageEmbed{
		Title: "Dragon Bot",
		Color: colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "GitHub", Value: fmt.Sprintf("[Repository](%s)", githubURL)},
			{Name: "Creator", Value: creatorDiscord},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Bot ID: " + d.discord.BotUserID(),
		},
	}
	return replyEmbed(ctx, handler, embed, false)
}

func (d *DragonBot) commandCredits(ctx context.Context, handler InteractionHandler) error {
	embed := &discordgo.MessageEmbed{
		Title: "Credits",
		Color: colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "Inspiration/Code Style",
				Value: "[Python Discords bot](https://github.com/python-discord/bot)",
			},
			{
				Name:  "`penguin-hide-and-seek`",
				Value: "Suggested by @Savannah on the Hack Club Slack",
			},
			{
				Name:  "`ask-ai-with-personality`",
				Value: "Suggested by [@the space man](http://scrapbook.hackclub.com/Ashlesh) on the Hack Club Slack",
			},
			{
				Name:  "`superstarify`",
				Value: "Suggested by @L3viathan in Python Discord",
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Huge thanks to them all!"},
	}
	return replyEmbed(ctx, handler, embed, false)
}

func (d *DragonBot) commandRPS(ctx context.Context, handler InteractionHandler) error {
	choice := strings.ToLower(
		optionString(discordInteractionOptions(handler.GetInteraction()), "choice"),
	)
	if _, ok := rpsBeats[choice]; !ok {
		return reply(ctx, handler, "Please choose rock, paper or scissors.", true)
	}
	botChoice := rpsMoves[randIntN(len(rpsMoves))]
	return reply(
		ctx,
		handler,
		fmt.Sprintf(
			"You chose **%s**, I chose **%s**. %s",
			choice,
			botChoice,
			rpsOutcome(choice, botChoice),
		),
		false,
	)
}

func rpsOutcome(user string, bot string) string {
	switch {
	case user == bot:
		return "It's a tie!"
	case rpsBeats[user] == bot:
		return "You win!"
	default:
		return "I win!"
	}
}

func (d *DragonBot) commandJoke(ctx context.Context, handler InteractionHandler) error {
	category := optionString(discordInteractionOptions(handler.GetInteraction()), "category")
	if category == "" {
		category = jokeCategoryAll
	}
	return reply(ctx, handler, d.jokes.pick(category), false)
}

// helpPages builds one embed per page of registered commands
func (d *DragonBot) helpPages() []*discordgo.MessageEmbed {
	commands := d.applicationCommands()
	chunks := chunkItems(helpCommandsPerPage, commands...)
	pages := make([]*discordgo.MessageEmbed, 0, len(chunks))
	for n, chunk := range chunks {
		embed := &discordgo.MessageEmbed{
			Title: fmt.Sprintf("Help - Page %d/%d", n+1, len(chunks)),
			Color: colorBlue,
		}
		for _, cmd := range chunk {
			description := cmd.Description
			if description == "" {
				description = "No description"
			}
			embed.Fields = append(
				embed.Fields,
				&discordgo.MessageEmbedField{Name: "/" + cmd.Name, Value: description},
			)
		}
		pages = append(pages, embed)
	}
	return pages
}

// helpComponents returns the previous/next buttons for the given page.
// Each button's custom ID carries the page it navigates to.
func helpComponents(page int, pageCount int, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    helpPreviousLabel,
					Style:    discordgo.PrimaryButton,
					CustomID: fmt.Sprintf("%s:%d", helpCustomIDPrefix, page-1),
					Disabled: disabled || page == 0,
				},
				discordgo.Button{
					Label:    helpNextLabel,
					Style:    discordgo.PrimaryButton,
					CustomID: fmt.Sprintf("%s:%d", helpCustomIDPrefix, page+1),
					Disabled: disabled || page >= pageCount-1,
				},
			},
		},
	}
}

func (d *DragonBot) commandHelp(ctx context.Context, handler InteractionHandler) error {
	pages := d.helpPages()
	if len(pages) == 0 {
		return reply(ctx, handler, "No commands found.", false)
	}

	err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{pages[0]},
				Components: helpComponents(0, len(pages), false),
			},
		},
	)
	if err != nil {
		return err
	}

	// disable navigation once the view expires, leaving whichever page
	// is currently shown
	logger := handler.Logger()
	time.AfterFunc(
		helpViewTimeout, func() {
			expireCtx, cancel := context.WithTimeout(
				context.WithoutCancel(ctx),
				DefaultWriteTimeout,
			)
			defer cancel()
			components := helpComponents(0, len(pages), true)
			if _, editErr := handler.Edit(
				expireCtx,
				&discordgo.WebhookEdit{Components: &components},
			); editErr != nil {
				logger.WarnContext(expireCtx, "error expiring help view", tint.Err(editErr))
			}
		},
	)
	return nil
}

// componentHelpPage swaps the help message to the page named in the
// pressed button's custom ID
func (d *DragonBot) componentHelpPage(ctx context.Context, handler InteractionHandler) error {
	customID := handler.GetInteraction().MessageComponentData().CustomID
	_, pageStr, _ := strings.Cut(customID, ":")
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		return fmt.Errorf("invalid help page %q: %w", pageStr, err)
	}

	pages := d.helpPages()
	if len(pages) == 0 {
		return fmt.Errorf("no help pages")
	}
	page = max(0, min(page, len(pages)-1))

	return handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{pages[page]},
				Components: helpComponents(page, len(pages), false),
			},
		},
	)
}
