package dragonbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	apiNameQuote   = "quote"
	apiNameDadJoke = "dad_joke"
	apiNameDog     = "dog"
	apiNameXKCD    = "xkcd"

	externalAPIUserAgent = "dragon-bot (https://github.com/dragonsenseiguy/dragon-bot)"

	// maxExternalResponseSize caps how much of a response body is read
	maxExternalResponseSize = 1 << 20
)

// APIStatusError is returned when a third-party API responds with
// anything other than 200 OK
type APIStatusError struct {
	API        string
	StatusCode int
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d", e.API, e.StatusCode)
}

// ExternalAPIs fetches data for the quote, dad-joke, dog and xkcd
// commands. Requests across all APIs share one rate limiter.
type ExternalAPIs struct {
	config         *ExternalAPIConfig
	client         *http.Client
	requestLimiter *rate.Limiter
	xkcdCache      *cache.Cache
	logger         *slog.Logger
}

func newExternalAPIs(
	config *ExternalAPIConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *ExternalAPIs {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ExternalAPIs{
		config:         config,
		client:         httpClient,
		requestLimiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		xkcdCache:      cache.New(config.CacheTTL, 2*config.CacheTTL),
		logger:         logger,
	}
}

// getJSON GETs the given URL and decodes the JSON response body into v
func (a *ExternalAPIs) getJSON(ctx context.Context, api string, url string, v any) error {
	if err := a.requestLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("error waiting on request limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", externalAPIUserAgent)

	logger := a.logger.With("api", api, "url", url)
	start := time.Now()
	resp, err := a.client.Do(req)
	externalRequestDuration.WithLabelValues(api).Observe(time.Since(start).Seconds())
	if err != nil {
		externalRequestsTotal.WithLabelValues(api, "error").Inc()
		logger.ErrorContext(ctx, "request failed", tint.Err(err))
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.WarnContext(ctx, "error closing response body", tint.Err(closeErr))
		}
	}()

	externalRequestsTotal.WithLabelValues(api, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		logger.WarnContext(ctx, "unexpected status", "status", resp.StatusCode)
		return &APIStatusError{API: api, StatusCode: resp.StatusCode}
	}

	if err = json.NewDecoder(io.LimitReader(resp.Body, maxExternalResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("error decoding %s response: %w", api, err)
	}
	logger.DebugContext(ctx, "request complete", "duration", time.Since(start))
	return nil
}

// Quote is a single quote from zenquotes.io
type Quote struct {
	Text   string `json:"q"`
	Author string `json:"a"`
}

// RandomQuote fetches a random quote
func (a *ExternalAPIs) RandomQuote(ctx context.Context) (*Quote, error) {
	var quotes []Quote
	if err := a.getJSON(ctx, apiNameQuote, a.config.QuoteURL, &quotes); err != nil {
		return nil, err
	}
	if len(quotes) == 0 || quotes[0].Text == "" {
		return nil, errors.New("no quote returned")
	}
	return &quotes[0], nil
}

// DadJoke fetches a random dad joke
func (a *ExternalAPIs) DadJoke(ctx context.Context) (string, error) {
	var joke struct {
		ID   string `json:"id"`
		Joke string `json:"joke"`
	}
	if err := a.getJSON(ctx, apiNameDadJoke, a.config.DadJokeURL, &joke); err != nil {
		return "", err
	}
	if joke.Joke == "" {
		return "", errors.New("no joke returned")
	}
	return joke.Joke, nil
}

// RandomDog returns the URL of a random dog picture
func (a *ExternalAPIs) RandomDog(ctx context.Context) (string, error) {
	var dog struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := a.getJSON(ctx, apiNameDog, a.config.DogURL, &dog); err != nil {
		return "", err
	}
	if dog.Status != "success" || dog.Message == "" {
		return "", fmt.Errorf("dog API returned status %q", dog.Status)
	}
	return dog.Message, nil
}

// XKCDComic is the JSON metadata for a single comic
type XKCDComic struct {
	Num        int    `json:"num"`
	Title      string `json:"title"`
	SafeTitle  string `json:"safe_title"`
	Alt        string `json:"alt"`
	Img        string `json:"img"`
	Year       string `json:"year"`
	Month      string `json:"month"`
	Day        string `json:"day"`
	Link       string `json:"link"`
	Transcript string `json:"transcript"`
}

// URL is the comic's page on xkcd.com
func (c XKCDComic) URL(baseURL string) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(baseURL, "/"), c.Num)
}

// HasImage reports whether the comic's image can be shown in an embed.
// Interactive comics link to something other than a static image.
func (c XKCDComic) HasImage() bool {
	for _, ext := range []string{"jpg", "png", "gif"} {
		if strings.HasSuffix(c.Img, ext) {
			return true
		}
	}
	return false
}

// LatestXKCD fetches the most recent comic. It's never cached.
func (a *ExternalAPIs) LatestXKCD(ctx context.Context) (*XKCDComic, error) {
	var comic XKCDComic
	url := strings.TrimRight(a.config.XKCDURL, "/") + "/info.0.json"
	if err := a.getJSON(ctx, apiNameXKCD, url, &comic); err != nil {
		return nil, err
	}
	return &comic, nil
}

// XKCD fetches the given comic, from the cache when possible
func (a *ExternalAPIs) XKCD(ctx context.Context, num int) (*XKCDComic, error) {
	key := strconv.Itoa(num)
	if cached, found := a.xkcdCache.Get(key); found {
		xkcdCacheTotal.WithLabelValues("hit").Inc()
		comic := cached.(XKCDComic)
		return &comic, nil
	}
	xkcdCacheTotal.WithLabelValues("miss").Inc()

	var comic XKCDComic
	url := fmt.Sprintf("%s/%d/info.0.json", strings.TrimRight(a.config.XKCDURL, "/"), num)
	if err := a.getJSON(ctx, apiNameXKCD, url, &comic); err != nil {
		return nil, err
	}
	a.xkcdCache.SetDefault(key, comic)
	return &comic, nil
}
