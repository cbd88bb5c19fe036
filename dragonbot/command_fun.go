package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	colorXKCD  = 0x68C290
	colorError = 0xCD6D6D

	xkcdIDOption = "xkcd_id"
)

func errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Error",
		Description: description,
		Color:       colorError,
	}
}

func (d *DragonBot) commandQuote(ctx context.Context, handler InteractionHandler) error {
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	quote, err := d.externalAPIs.RandomQuote(ctx)
	if err != nil {
		_ = followUp(ctx, handler, "Could not retrieve a quote. Try again later.", false)
		return err
	}
	return followUp(
		ctx,
		handler,
		fmt.Sprintf("> %s\n— **%s**", quote.Text, escapeMarkdown(quote.Author)),
		false,
	)
}

func (d *DragonBot) commandDadJoke(ctx context.Context, handler InteractionHandler) error {
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	joke, err := d.externalAPIs.DadJoke(ctx)
	if err != nil {
		_ = followUp(ctx, handler, "Could not retrieve a dad joke. Try again later.", false)
		return err
	}
	return followUp(ctx, handler, joke, false)
}

func (d *DragonBot) commandDog(ctx context.Context, handler InteractionHandler) error {
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	imageURL, err := d.externalAPIs.RandomDog(ctx)
	if err != nil {
		_ = followUp(ctx, handler, "Could not retrieve a dog picture. Try again later.", false)
		return err
	}
	return followUpEmbed(
		ctx,
		handler,
		&discordgo.MessageEmbed{
			Title: "🐶 Woof!",
			Color: colorBlue,
			Image: &discordgo.MessageEmbedImage{URL: imageURL},
		},
		false,
	)
}

// xkcdEmbed renders a comic, swapping the alt text for a link when the
// comic is interactive
func xkcdEmbed(comic *XKCDComic, baseURL string) *discordgo.MessageEmbed {
	pageURL := comic.URL(baseURL)
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("XKCD comic #%d", comic.Num),
		URL:         pageURL,
		Color:       colorXKCD,
		Description: comic.Alt,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%s/%s/%s - #%d, '%s'",
				comic.Year,
				comic.Month,
				comic.Day,
				comic.Num,
				comic.SafeTitle,
			),
		},
	}
	if comic.HasImage() {
		embed.Image = &discordgo.MessageEmbedImage{URL: comic.Img}
	} else {
		embed.Description = fmt.Sprintf(
			"The selected comic is interactive, and cannot be displayed within an embed.\n"+
				"Comic can be viewed [here](%s).",
			pageURL,
		)
	}
	return embed
}

// sendXKCD fetches and sends the given comic, or the latest when num
// is zero. The interaction must already be deferred.
func (d *DragonBot) sendXKCD(
	ctx context.Context,
	handler InteractionHandler,
	num int,
) error {
	var comic *XKCDComic
	var err error
	if num == 0 {
		comic, err = d.externalAPIs.LatestXKCD(ctx)
	} else {
		comic, err = d.externalAPIs.XKCD(ctx, num)
	}
	if err != nil {
		var statusErr *APIStatusError
		msg := fmt.Sprintf("An error occurred: %v", err)
		if errors.As(err, &statusErr) {
			msg = "Could not retrieve xkcd comic."
		}
		handler.Logger().ErrorContext(ctx, "error fetching xkcd", "num", num, tint.Err(err))
		return followUpEmbed(ctx, handler, errorEmbed(msg), false)
	}
	return followUpEmbed(ctx, handler, xkcdEmbed(comic, d.config.ExternalAPIs.XKCDURL), false)
}

func (d *DragonBot) commandXKCDFetch(ctx context.Context, handler InteractionHandler) error {
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	raw := optionString(discordInteractionOptions(handler.GetInteraction()), xkcdIDOption)
	num, err := strconv.Atoi(raw)
	if err != nil || num < 1 {
		return followUpEmbed(ctx, handler, errorEmbed("Could not retrieve xkcd comic."), false)
	}
	return d.sendXKCD(ctx, handler, num)
}

func (d *DragonBot) commandXKCDLatest(ctx context.Context, handler InteractionHandler) error {
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	return d.sendXKCD(ctx, handler, 0)
}

func (d *DragonBot) commandXKCDRandom(ctx context.Context, handler InteractionHandler) error {
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	latest, err := d.externalAPIs.LatestXKCD(ctx)
	if err != nil {
		var statusErr *APIStatusError
		msg := fmt.Sprintf("An error occurred: %v", err)
		if errors.As(err, &statusErr) {
			msg = "Could not retrieve the latest xkcd comic."
		}
		handler.Logger().ErrorContext(ctx, "error fetching latest xkcd", tint.Err(err))
		return followUpEmbed(ctx, handler, errorEmbed(msg), false)
	}
	if latest.Num < 1 {
		return followUpEmbed(
			ctx,
			handler,
			errorEmbed("Could not retrieve the latest xkcd comic."),
			false,
		)
	}
	return d.sendXKCD(ctx, handler, randIntN(latest.Num)+1)
}
