package dragonbot

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// DiscordWebhookServer receives interactions via HTTP POST, as an
// alternative to the gateway.
// See: https://discord.com/developers/docs/interactions/receiving-and-responding#receiving-an-interaction
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	if d.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, d.config.ListenNetwork, d.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", d.config.Listen, err)
		}
		d.listener = ln
	}

	stop := context.AfterFunc(
		ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()
			if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("error shutting down webhook server", tint.Err(err))
			}
		},
	)
	defer stop()

	if d.httpServer.TLSConfig == nil {
		d.logger.Warn("starting server without TLS")
		return d.httpServer.Serve(d.listener)
	}
	return d.httpServer.ServeTLS(d.listener, "", "")
}

// newWebhookServer creates and returns a new [DiscordWebhookServer], and/or
// any errors that occurred during creation.
func newWebhookServer(
	d *DragonBot,
	config DiscordWebhookServerConfig,
) (*DiscordWebhookServer, error) {
	if len(d.discord.publicKey) == 0 {
		return nil, fmt.Errorf("webhook server enabled without a public key")
	}

	r := gin.New()
	server := &DiscordWebhookServer{
		config: config,
		engine: r,
		logger: slog.New(newLogHandler(config.LogLevel)).With(loggerNameKey, "discord_webhook"),
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	server.httpServer = httpServer

	if !d.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware("discord_webhook"),
		discordRequestAuthenticationMiddleware(d.discord.publicKey),
	)

	r.POST(
		apiDiscordInteractions,
		func(c *gin.Context) {
			if d.webhookInteractionHandler == nil {
				c.AbortWithStatusJSON(
					http.StatusServiceUnavailable,
					httpError{Error: "not ready"},
				)
				return
			}
			d.webhookInteractionHandler(c)
		},
	)
	return server, nil
}

// WebhookHandler is a handler for Discord interactions received via webhook.
// The initial response is written as the HTTP response body, everything
// after that goes through the REST API like a [GatewayHandler].
type WebhookHandler struct {
	// response receives the initial response, which the gin handler
	// writes as soon as it arrives
	response  chan *discordgo.InteractionResponse
	responded *atomic.Bool
	InteractionHandler
}

func newWebhookHandler(handler InteractionHandler) WebhookHandler {
	return WebhookHandler{
		response:           make(chan *discordgo.InteractionResponse, 1),
		responded:          &atomic.Bool{},
		InteractionHandler: handler,
	}
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

func (w WebhookHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	// attachments would need a multipart response, which discord
	// doesn't accept here
	if response.Data != nil && len(response.Data.Files) > 0 {
		return fmt.Errorf("webhook responses can't include files")
	}
	if !w.responded.CompareAndSwap(false, true) {
		return fmt.Errorf("interaction already responded to")
	}
	w.response <- response
	return nil
}

// webhookReceiveHandler returns a [gin.Handler] for handling Discord webhook
// interactions. The interaction is handled in its own goroutine, and the
// HTTP request completes as soon as the initial response is available,
// so deferred commands keep running after discord has its acknowledgement.
func webhookReceiveHandler(
	ctx context.Context,
	d *DragonBot,
	runtimeWG *sync.WaitGroup,
) func(c *gin.Context) {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		runCtx := WithLogger(ctx, logger)

		defer func() {
			_ = c.Request.Body.Close()
		}()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(runCtx, "error getting raw data", tint.Err(err))
			c.JSON(http.StatusInternalServerError, httpError{Error: "error getting raw data"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(runCtx, "error unmarshalling body", tint.Err(e))
			c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}

		handler := newWebhookHandler(d.getInteractionHandlerFunc(ctx, &interaction))
		done := make(chan struct{})

		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			defer close(done)
			d.handleInteraction(runCtx, handler)
		}()

		select {
		case response := <-handler.response:
			c.JSON(http.StatusOK, response)
		case <-done:
			select {
			case response := <-handler.response:
				c.JSON(http.StatusOK, response)
			default:
				logger.WarnContext(runCtx, "interaction finished without a response")
				c.JSON(http.StatusInternalServerError, httpError{Error: "no response"})
			}
		case <-c.Request.Context().Done():
			logger.WarnContext(
				runCtx,
				"request ended before the interaction was responded to",
				tint.Err(c.Request.Context().Err()),
			)
		}
	}
}

// discordRequestAuthenticationMiddleware is a middleware for verifying Discord
// webhook requests.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if !verifyRequest(c.Request, publicKey) {
			logger.WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest checks the request's ed25519 signature, which covers the
// timestamp header followed by the body. The body is restored so it can
// be read again by the handler.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	var msg bytes.Buffer

	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	msg.WriteString(timestamp)

	defer func() {
		_ = r.Body.Close()
	}()
	var body bytes.Buffer

	defer func() {
		r.Body = io.NopCloser(&body)
	}()

	_, err = io.Copy(&msg, io.TeeReader(r.Body, &body))
	if err != nil {
		return false
	}

	return ed25519.Verify(key, msg.Bytes(), sig)
}
