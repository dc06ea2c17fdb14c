// Package notify posts round lifecycle events to a Discord channel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"econfair/internal/game"
	"econfair/internal/model"
)

type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	sender    messageSender
	channelID string
	session   *discordgo.Session
}

// NewDiscord builds a REST-only client; no gateway connection is opened.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	if strings.TrimSpace(botToken) == "" || strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("discord: bot token and channel id are required")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(botToken))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{sender: s, channelID: strings.TrimSpace(channelID), session: s}, nil
}

func (d *Discord) Announce(ctx context.Context, event game.RoundEvent, sess model.Session) error {
	if _, err := d.sender.ChannelMessageSend(d.channelID, Message(event, sess), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// Message renders the channel text for an event.
func Message(event game.RoundEvent, sess model.Session) string {
	switch event {
	case game.EventSessionOpened:
		return fmt.Sprintf("📋 Session **%s** is open. Round length %s.", sess.ID, minutes(sess.RoundDurationSec))
	case game.EventRoundStarted:
		ends := ""
		if sess.RoundEndsAt != nil {
			ends = " Ends at " + sess.RoundEndsAt.Format("15:04:05") + " UTC."
		}
		return fmt.Sprintf("🔔 Round started in **%s**.%s", sess.ID, ends)
	case game.EventRoundStopped:
		return fmt.Sprintf("🛑 Round ended in **%s**. Trading is closed.", sess.ID)
	case game.EventScenarioRegenerated:
		return fmt.Sprintf("🎲 New market scenario for **%s**.", sess.ID)
	default:
		return fmt.Sprintf("%s: %s", sess.ID, event)
	}
}

func minutes(sec int64) string {
	if sec%60 == 0 {
		return fmt.Sprintf("%dm", sec/60)
	}
	return fmt.Sprintf("%dm%02ds", sec/60, sec%60)
}
