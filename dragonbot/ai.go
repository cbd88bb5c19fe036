package dragonbot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const (
	aiPromptOption = "prompt"

	aiImageFilename    = "image.png"
	aiImageContentType = "image/png"

	// maxImageResponseSize caps the image generation response body, which
	// carries the image as base64
	maxImageResponseSize = 32 << 20

	replyNoImage      = "I couldn't generate an image. The API returned no image."
	replyInvalidImage = "I couldn't generate an image. The API returned invalid image data."
)

var (
	errNoImage      = errors.New("no image in response")
	errInvalidImage = errors.New("invalid image data")
	errNoCompletion = errors.New("no completion choices returned")
)

// AIClient is the subset of the go-openai client used for completions
type AIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// AI wraps the OpenAI-compatible API behind /ask-ai and /generate-image
type AI struct {
	client     AIClient
	config     *AIConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func newAI(config *AIConfig, httpClient *http.Client, logger *slog.Logger) *AI {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clientConfig := openai.DefaultConfig(config.Token)
	clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	clientConfig.HTTPClient = httpClient

	return &AI{
		client:     openai.NewClientWithConfig(clientConfig),
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Ask returns the model's answer to the given prompt
func (a *AI) Ask(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if a.config.SystemPrompt != "" {
		messages = append(
			messages,
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: a.config.SystemPrompt,
			},
		)
	}
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt},
	)

	start := timeNow()
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{Model: a.config.Model, Messages: messages},
	)
	externalRequestDuration.WithLabelValues("ai_chat").Observe(timeNow().Sub(start).Seconds())
	if err != nil {
		externalRequestsTotal.WithLabelValues("ai_chat", "error").Inc()
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	externalRequestsTotal.WithLabelValues("ai_chat", "200").Inc()

	a.logger.InfoContext(
		ctx,
		"chat completion",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	if len(resp.Choices) == 0 {
		return "", errNoCompletion
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", errNoCompletion
	}
	return answer, nil
}

type imageGenerationRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Modalities  []string                       `json:"modalities"`
	ImageConfig *imageGenerationConfig         `json:"image_config,omitempty"`
}

type imageGenerationConfig struct {
	AspectRatio string `json:"aspect_ratio"`
}

// imageGenerationResponse is the proxy's chat completion response, which
// carries generated images alongside the message content
type imageGenerationResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateImage requests an image for the given prompt, returning the
// decoded image bytes. errNoImage is returned if the response didn't
// include an image, errInvalidImage if it couldn't be decoded.
func (a *AI) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	payload := imageGenerationRequest{
		Model: a.config.ImageModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Modalities: []string{"image", "text"},
	}
	if a.config.ImageAspectRatio != "" {
		payload.ImageConfig = &imageGenerationConfig{AspectRatio: a.config.ImageAspectRatio}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		strings.TrimRight(a.config.BaseURL, "/")+"/chat/completions",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.config.Token)
	req.Header.Set("Content-Type", "application/json")

	start := timeNow()
	resp, err := a.httpClient.Do(req)
	externalRequestDuration.WithLabelValues("ai_image").Observe(timeNow().Sub(start).Seconds())
	if err != nil {
		externalRequestsTotal.WithLabelValues("ai_image", "error").Inc()
		return nil, fmt.Errorf("error requesting image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	externalRequestsTotal.WithLabelValues("ai_image", fmt.Sprint(resp.StatusCode)).Inc()

	var result imageGenerationResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, maxImageResponseSize)).Decode(&result); err != nil {
		a.logger.ErrorContext(
			ctx,
			"error decoding image response",
			"status", resp.StatusCode,
			tint.Err(err),
		)
		return nil, errNoImage
	}
	a.logger.InfoContext(
		ctx,
		"image response",
		"status", resp.StatusCode,
		"choices", len(result.Choices),
	)

	if len(result.Choices) == 0 || len(result.Choices[0].Message.Images) == 0 {
		return nil, errNoImage
	}
	return decodeImageDataURL(result.Choices[0].Message.Images[0].ImageURL.URL)
}

// decodeImageDataURL decodes a base64 data URL (or bare base64 string)
func decodeImageDataURL(s string) ([]byte, error) {
	if s == "" {
		return nil, errNoImage
	}
	if _, data, found := strings.Cut(s, ","); found {
		s = data
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidImage, err)
	}
	if len(b) == 0 {
		return nil, errInvalidImage
	}
	return b, nil
}

// checkQuota consumes a unit of the daily AI quota. If the quota is
// exhausted or can't be checked, the user is told which via follow-up and
// false is returned. The interaction must already be deferred (publicly,
// so follow-ups here are never ephemeral).
func (d *DragonBot) checkQuota(ctx context.Context, handler InteractionHandler) bool {
	logger := handler.Logger()
	result, err := d.quota.Consume(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error checking quota", tint.Err(err))
	}
	switch result {
	case quota.Allowed:
		return true
	case quota.Denied:
		logger.InfoContext(ctx, "daily quota reached", "counter", d.quota.Name())
		_ = followUp(ctx, handler, d.config.AI.QuotaMessage, false)
	default:
		logger.WarnContext(ctx, "quota unavailable", "counter", d.quota.Name(), "result", result)
		_ = followUp(ctx, handler, d.config.AI.QuotaUnavailableMessage, false)
	}
	return false
}

func (d *DragonBot) commandAskAI(ctx context.Context, handler InteractionHandler) error {
	prompt := optionString(discordInteractionOptions(handler.GetInteraction()), aiPromptOption)
	if prompt == "" {
		return reply(ctx, handler, "Please provide a prompt.", true)
	}
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	if !d.checkQuota(ctx, handler) {
		return nil
	}

	answer, err := d.ai.Ask(ctx, prompt)
	if err != nil {
		_ = followUp(ctx, handler, d.config.Discord.ErrorMessage, false)
		return err
	}
	return followUp(ctx, handler, shortenString(answer, discordMaxMessageLength), false)
}

func (d *DragonBot) commandGenerateImage(ctx context.Context, handler InteractionHandler) error {
	prompt := optionString(discordInteractionOptions(handler.GetInteraction()), aiPromptOption)
	if prompt == "" {
		return reply(ctx, handler, "Please provide a prompt.", true)
	}
	if err := deferReply(ctx, handler, false); err != nil {
		return err
	}
	if !d.checkQuota(ctx, handler) {
		return nil
	}

	image, err := d.ai.GenerateImage(ctx, prompt)
	switch {
	case errors.Is(err, errInvalidImage):
		_ = followUp(ctx, handler, replyInvalidImage, false)
		return err
	case err != nil:
		_ = followUp(ctx, handler, replyNoImage, false)
		return err
	}

	_, err = handler.FollowUp(
		ctx,
		&discordgo.WebhookParams{
			Files: []*discordgo.File{
				{
					Name:        aiImageFilename,
					ContentType: aiImageContentType,
					Reader:      bytes.NewReader(image),
				},
			},
		},
	)
	return err
}

