// Package notify sends operator alerts.
package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Notifier interface {
	Notify(message string) error
}

// New returns a Discord notifier when a token and channel are configured, and
// one that only logs otherwise.
func New(logger *zap.Logger, token, channel string) (Notifier, error) {
	if token == "" || channel == "" {
		return Log{logger: logger}, nil
	}
	return NewDiscord(token, channel)
}

type Discord struct {
	session *discordgo.Session
	channel string
}

func NewDiscord(token, channel string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, channel: channel}, nil
}

func (d *Discord) Notify(message string) error {
	_, err := d.session.ChannelMessageSend(d.channel, message)
	return err
}

// Log writes alerts to the logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) Log {
	return Log{logger: logger}
}

func (l Log) Notify(message string) error {
	if l.logger != nil {
		l.logger.Warn("alert", zap.String("message", message))
	}
	return nil
}

// Func adapts a function to a Notifier.
type Func func(message string) error

func (f Func) Notify(message string) error { return f(message) }
