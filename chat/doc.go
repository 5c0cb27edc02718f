// Package chat connects the bot to Twitch IRC.
//
// Bot joins the configured channels, turns CLEARCHAT notices (bans, timeouts
// and whole-chat clears) into ClearChat events and PRIVMSG lines into Message
// events, and fans each event out to the registered handlers on its own
// goroutine so a slow Helix lookup never stalls the IRC read loop. Every event
// carries a fresh correlation id in its context.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. When TWITCH_OAUTH_TOKEN is not provided, main
// reuses the stored token for provider "twitch" from the oauth_tokens table.
package chat
