package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// sender is the part of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram pushes operator alerts to one chat.
type Telegram struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

var _ domrepo.Notifier = (*Telegram)(nil)

// NewTelegram validates chatID and logs the bot in.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegram(bot, id, maxRetries, retryDelayBase), nil
}

func newTelegram(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Telegram {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Telegram{bot: bot, chatID: chatID, maxRetries: maxRetries, retryDelayBase: retryDelayBase}
}

// Notify formats e and sends it with linear-backoff retry.
func (t *Telegram) Notify(ctx context.Context, e models.AuditEvent) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatEvent(e))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.maxRetries, lastErr)
}

var kindTitle = map[models.AuditKind]string{
	models.AuditEmergency:        "🚨 *Emergency*",
	models.AuditForcedExit:       "🛑 *Forced exit*",
	models.AuditCorrectnessAlert: "⚠️ *Correctness alert*",
	models.AuditReconcile:        "🔄 *Reconcile*",
	models.AuditOrder:            "💱 *Order*",
}

// FormatEvent renders e as a MarkdownV2 message.
func FormatEvent(e models.AuditEvent) string {
	title, ok := kindTitle[e.Kind]
	if !ok {
		title = "*" + escapeMarkdownV2(string(e.Kind)) + "*"
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(" ")
	b.WriteString(escapeMarkdownV2(e.Market))
	b.WriteString("\n")
	if e.Action != "" {
		fmt.Fprintf(&b, "%s \\(%s\\)\n", escapeMarkdownV2(string(e.Action)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", e.Confidence)))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "`%s`\n", escapeMarkdownV2(e.Reason))
	}
	if !e.Timestamp.IsZero() {
		b.WriteString(escapeMarkdownV2(e.Timestamp.UTC().Format("2006-01-02 15:04:05")))
		b.WriteString(" UTC")
	}
	return b.String()
}

func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
