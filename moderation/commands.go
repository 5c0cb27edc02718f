// Package moderation implements the chat commands that act on a channel:
// timed locks, temporary bans and reminders. Each feature owns one timer
// namespace and schedules its follow-up work there.
package moderation

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/telemetry"
)

// Sayer posts a line to a channel.
type Sayer interface {
	Say(channel, text string)
}

// Invocation is one parsed command.
type Invocation struct {
	Message chat.Message
	Name    string
	Args    []string
}

// Rest joins the arguments from index i on, or returns "" when there are none.
func (inv Invocation) Rest(i int) string {
	if i >= len(inv.Args) {
		return ""
	}
	return strings.Join(inv.Args[i:], " ")
}

// HandlerFunc runs a command.
type HandlerFunc func(ctx context.Context, inv Invocation)

type command struct {
	privileged bool
	fn         HandlerFunc
}

// Commands routes prefixed chat lines to registered handlers. Privileged
// commands are silently ignored for viewers.
type Commands struct {
	prefix   string
	commands map[string]command
}

func NewCommands(prefix string) *Commands {
	if prefix == "" {
		prefix = "!"
	}
	return &Commands{prefix: prefix, commands: make(map[string]command)}
}

// Register adds fn under name and any aliases. Names are case-insensitive.
func (c *Commands) Register(name string, privileged bool, fn HandlerFunc, aliases ...string) {
	for _, n := range append([]string{name}, aliases...) {
		c.commands[strings.ToLower(n)] = command{privileged: privileged, fn: fn}
	}
}

// Names lists the registered command names.
func (c *Commands) Names() []string {
	out := make([]string, 0, len(c.commands))
	for n := range c.commands {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// HandleMessage implements chat.MessageHandler.
func (c *Commands) HandleMessage(ctx context.Context, msg chat.Message) {
	inv, ok := c.parse(msg)
	if !ok {
		return
	}
	cmd, ok := c.commands[inv.Name]
	if !ok {
		return
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "commands"), slog.String("command", inv.Name), slog.String("channel", msg.Channel))
	if cmd.privileged && !msg.Privileged() {
		log.Debug("ignoring privileged command from viewer", slog.String("user", msg.Login))
		return
	}
	log.Debug("running command", slog.String("user", msg.Login))
	cmd.fn(ctx, inv)
}

func (c *Commands) parse(msg chat.Message) (Invocation, bool) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, c.prefix) {
		return Invocation{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, c.prefix))
	if len(fields) == 0 {
		return Invocation{}, false
	}
	return Invocation{Message: msg, Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}
