// Package dragonbot implements a Discord bot offering utility, fun,
// moderation and AI slash commands.
//
// Most commands reply directly or proxy a third-party HTTP API (quotes,
// dad jokes, dog pictures, xkcd). The AI commands, /ask-ai and
// /generate-image, are gated by a daily quota shared by both, persisted
// by the quota package so it survives restarts.
//
// Key components of the package include:
//
//   - DragonBot: The main struct, which ties the components together and
//     supervises them in Run.
//   - Discord: The discord session, gateway event handlers and command
//     registration.
//   - AI: Chat completions and image generation against an
//     OpenAI-compatible API.
//   - ExternalAPIs: The rate-limited client for the fun commands.
//   - API: An admin HTTP API for health checks, metrics and quota usage.
//   - DiscordWebhookServer: Receives interactions via HTTP, as an
//     alternative to the gateway.
//
// Interactions are recorded in the database, along with superstarify
// nicknames, which are reverted on a schedule once they expire.
package dragonbot
