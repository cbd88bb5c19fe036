package dragonbot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"github.com/bwmarrin/discordgo"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAIClient struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	answer   string
	err      error

	// release, if set, blocks completions until it's closed
	release chan struct{}
}

func (m *mockAIClient) CreateChatCompletion(
	ctx context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, request)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.answer}},
		},
	}, nil
}

// failingStore is a quota store that can't be read
type failingStore struct{}

func (failingStore) Load(context.Context) (quota.State, error) {
	return quota.State{}, errors.New("store unavailable")
}

func (failingStore) Save(context.Context, quota.State) error {
	return errors.New("store unavailable")
}

// blockingStore holds the counter's lock until release is closed
type blockingStore struct {
	loading chan struct{}
	release chan struct{}
}

func (b blockingStore) Load(ctx context.Context) (quota.State, error) {
	close(b.loading)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return quota.State{}, quota.ErrNoState
}

func (blockingStore) Save(context.Context, quota.State) error {
	return nil
}

// imageServer serves image generation responses with the given image URL
func imageServer(t testing.TB, imageURL string) (*httptest.Server, *imageGenerationRequest) {
	t.Helper()
	var got imageGenerationRequest
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" ||
					r.Header.Get("Authorization") != "Bearer ai-token" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &got)

				resp := map[string]any{"choices": []any{}}
				if imageURL != "" {
					resp["choices"] = []any{
						map[string]any{
							"message": map[string]any{
								"content": "",
								"images": []any{
									map[string]any{
										"image_url": map[string]any{"url": imageURL},
									},
								},
							},
						},
					}
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(resp)
			},
		),
	)
	t.Cleanup(srv.Close)
	return srv, &got
}

func useImageServer(t testing.TB, bot *DragonBot, imageURL string) *imageGenerationRequest {
	t.Helper()
	srv, got := imageServer(t, imageURL)
	bot.config.AI.BaseURL = srv.URL
	bot.ai.httpClient = srv.Client()
	return got
}

var testImage = []byte("\x89PNG\r\n\x1a\nnot really a png")

func testImageDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(testImage)
}

func TestDecodeImageDataURL(t *testing.T) {
	t.Parallel()

	b, err := decodeImageDataURL(testImageDataURL())
	require.NoError(t, err)
	assert.Equal(t, testImage, b)

	b, err = decodeImageDataURL(base64.StdEncoding.EncodeToString(testImage))
	require.NoError(t, err)
	assert.Equal(t, testImage, b)

	_, err = decodeImageDataURL("")
	assert.ErrorIs(t, err, errNoImage)

	_, err = decodeImageDataURL("data:image/png;base64,!!!")
	assert.ErrorIs(t, err, errInvalidImage)

	_, err = decodeImageDataURL("data:image/png;base64,")
	assert.ErrorIs(t, err, errInvalidImage)
}

func TestAI_Ask(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	client := &mockAIClient{answer: "  42  "}
	bot.ai.client = client

	answer, err := bot.ai.Ask(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "42", answer)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, bot.config.AI.Model, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, "what is the answer?", req.Messages[1].Content)
}

func TestAI_AskEmpty(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	bot.ai.client = &mockAIClient{answer: " "}

	_, err := bot.ai.Ask(context.Background(), "hello")
	assert.ErrorIs(t, err, errNoCompletion)
}

func TestAI_GenerateImage(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	got := useImageServer(t, bot, testImageDataURL())

	image, err := bot.ai.GenerateImage(context.Background(), "a dragon")
	require.NoError(t, err)
	assert.Equal(t, testImage, image)

	assert.Equal(t, bot.config.AI.ImageModel, got.Model)
	assert.Equal(t, []string{"image", "text"}, got.Modalities)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "a dragon", got.Messages[0].Content)
	if bot.config.AI.ImageAspectRatio != "" {
		require.NotNil(t, got.ImageConfig)
		assert.Equal(t, bot.config.AI.ImageAspectRatio, got.ImageConfig.AspectRatio)
	}
}

func TestAI_GenerateImageErrors(t *testing.T) {
	t.Parallel()

	bot, _ := newTestBot(t)
	useImageServer(t, bot, "")
	_, err := bot.ai.GenerateImage(context.Background(), "a dragon")
	assert.ErrorIs(t, err, errNoImage)

	bot, _ = newTestBot(t)
	bot.config.AI.Token = "wrong"
	useImageServer(t, bot, testImageDataURL())
	_, err = bot.ai.GenerateImage(context.Background(), "a dragon")
	assert.ErrorIs(t, err, errNoImage)
}

func TestCommandAskAI(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	bot.ai.client = &mockAIClient{answer: "Dragons are cool."}

	h := runInteraction(
		t,
		bot,
		newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "tell me about dragons")),
	)
	requireDeferred(t, h)
	assert.Equal(t, "Dragons are cool.", h.followUp(t).Content)

	usage, err := bot.quota.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Count)
}

func TestCommandAskAI_EmptyPrompt(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	client := &mockAIClient{answer: "unused"}
	bot.ai.client = client

	h := runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "  ")))
	resp := h.response(t)
	assert.Equal(t, "Please provide a prompt.", resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	usage, err := bot.quota.Usage(context.Background())
	require.NoError(t, err)
	assert.Zero(t, usage.Count)
	assert.Empty(t, client.requests)
}

func TestCommandAskAI_APIError(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	bot.ai.client = &mockAIClient{err: errors.New("upstream unavailable")}

	h := runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "hi")))
	requireDeferred(t, h)
	assert.Equal(t, bot.config.Discord.ErrorMessage, h.followUp(t).Content)
}

func TestCommandAskAI_QuotaExhausted(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	client := &mockAIClient{answer: "first"}
	bot.ai.client = client
	bot.quota = newTestQuota(t, filepath.Join(t.TempDir(), "quota.json"), 1)

	h := runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "one")))
	requireDeferred(t, h)
	assert.Equal(t, "first", h.followUp(t).Content)

	h = runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "two")))
	requireDeferred(t, h)
	msg := h.followUp(t)
	assert.Equal(t, bot.config.AI.QuotaMessage, msg.Content)
	assert.Zero(t, msg.Flags)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.requests, 1)
}

func TestCommandAskAI_QuotaUnreadable(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	client := &mockAIClient{answer: "unused"}
	bot.ai.client = client

	counter, err := quota.New(failingStore{}, quota.Config{Name: "ai", Ceiling: 5}, newTestLogger(t))
	require.NoError(t, err)
	bot.quota = counter

	h := runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "hi")))
	requireDeferred(t, h)
	msg := h.followUp(t)
	assert.Equal(t, bot.config.AI.QuotaUnavailableMessage, msg.Content)
	assert.NotEqual(t, bot.config.AI.QuotaMessage, msg.Content)
	assert.Zero(t, msg.Flags)
	assert.Empty(t, client.requests)
}

func TestCommandAskAI_QuotaLockTimeout(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	client := &mockAIClient{answer: "unused"}
	bot.ai.client = client

	store := blockingStore{loading: make(chan struct{}), release: make(chan struct{})}
	counter, err := quota.New(
		store,
		quota.Config{Name: "ai", Ceiling: 5, LockTimeout: 20 * time.Millisecond},
		newTestLogger(t),
	)
	require.NoError(t, err)
	bot.quota = counter

	usageDone := make(chan struct{})
	go func() {
		defer close(usageDone)
		_, _ = counter.Usage(context.Background())
	}()
	<-store.loading
	t.Cleanup(
		func() {
			close(store.release)
			<-usageDone
		},
	)

	h := runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "hi")))
	requireDeferred(t, h)
	msg := h.followUp(t)
	assert.Equal(t, bot.config.AI.QuotaUnavailableMessage, msg.Content)
	assert.Zero(t, msg.Flags)
	assert.Empty(t, client.requests)
}

func TestCommandGenerateImage(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	useImageServer(t, bot, testImageDataURL())

	h := runInteraction(
		t,
		bot,
		newDMInteraction(t, commandGenerateImage, stringOption(aiPromptOption, "a dragon")),
	)
	requireDeferred(t, h)
	msg := h.followUp(t)
	require.Len(t, msg.Files, 1)
	assert.Equal(t, "image.png", msg.Files[0].Name)
	assert.Equal(t, "image/png", msg.Files[0].ContentType)

	b, err := io.ReadAll(msg.Files[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, testImage, b)
}

func TestCommandGenerateImage_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		imageURL string
		want     string
	}{
		"no image":      {imageURL: "", want: replyNoImage},
		"invalid image": {imageURL: "data:image/png;base64,%%%", want: replyInvalidImage},
	}
	for name, tc := range tests {
		t.Run(
			name, func(t *testing.T) {
				t.Parallel()
				bot, _ := newTestBot(t)
				useImageServer(t, bot, tc.imageURL)

				h := runInteraction(
					t,
					bot,
					newDMInteraction(t, commandGenerateImage, stringOption(aiPromptOption, "a dragon")),
				)
				requireDeferred(t, h)
				msg := h.followUp(t)
				assert.Equal(t, tc.want, msg.Content)
				assert.Empty(t, msg.Files)
			},
		)
	}
}

func TestCommandGenerateImage_QuotaExhausted(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	useImageServer(t, bot, testImageDataURL())
	bot.ai.client = &mockAIClient{answer: "text"}
	bot.quota = newTestQuota(t, filepath.Join(t.TempDir(), "quota.json"), 1)

	// ask-ai and generate-image share the same counter
	h := runInteraction(t, bot, newDMInteraction(t, commandAskAI, stringOption(aiPromptOption, "hi")))
	requireDeferred(t, h)
	_ = h.followUp(t)

	h = runInteraction(
		t,
		bot,
		newDMInteraction(t, commandGenerateImage, stringOption(aiPromptOption, "a dragon")),
	)
	requireDeferred(t, h)
	msg := h.followUp(t)
	assert.Equal(t, bot.config.AI.QuotaMessage, msg.Content)
	assert.Empty(t, msg.Files)
}
