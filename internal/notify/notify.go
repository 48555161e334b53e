// Package notify delivers run summaries to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalambet/podcaster/internal/pipeline"
)

// Sender is the part of tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Nop discards summaries.
type Nop struct{}

// Notify implements pipeline.Notifier.
func (Nop) Notify(context.Context, pipeline.Summary) error { return nil }

// Telegram posts an HTML summary of every run to one chat.
type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram returns a Telegram notifier sending through s.
func NewTelegram(s Sender, chatID int64) *Telegram {
	return &Telegram{sender: s, chatID: chatID}
}

// New builds the configured notifier. Without a token or chat id it returns
// Nop. Creating the bot performs a getMe call.
func New(token string, chatID int64) (pipeline.Notifier, error) {
	if token == "" || chatID == 0 {
		return Nop{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	slog.Info("telegram notifications enabled", "bot", api.Self.UserName, "chat_id", chatID)
	return NewTelegram(api, chatID), nil
}

// Notify implements pipeline.Notifier.
func (t *Telegram) Notify(ctx context.Context, s pipeline.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, Format(s))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Format renders a summary as Telegram HTML.
func Format(s pipeline.Summary) string {
	var b strings.Builder
	icon := "✅"
	if s.Status != pipeline.StatusSuccess {
		icon = "❌"
	}
	fmt.Fprintf(&b, "%s <b>Podcast run %s</b>\n", icon, html.EscapeString(shortID(s.RunID)))
	fmt.Fprintf(&b, "Episodes: %d processed, %d marked in %.1fs\n",
		s.EpisodesProcessed, s.EpisodesMarked, s.TotalTimeSeconds)
	if s.Error != "" {
		fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(s.Error))
	}

	b.WriteString("\n")
	for _, name := range pipeline.AgentOrder {
		a, ok := s.Agents[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "• %s: %s\n", name, a.Status)
	}

	if len(s.Episodes) > 0 {
		b.WriteString("\n")
	}
	for _, ep := range s.Episodes {
		mark := "·"
		if ep.Marked {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %d. %s (%s/%s/%s)\n", mark, ep.Number, html.EscapeString(ep.Title),
			ep.Transcription, ep.Translation, ep.TTS)
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
