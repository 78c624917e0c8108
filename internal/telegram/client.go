// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// maxAnomaliesPerMessage keeps digests well under Telegram's message size limit.
const maxAnomaliesPerMessage = 20

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	minSeverity    models.Severity
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, minSeverity models.Severity, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if !minSeverity.Valid() {
		minSeverity = models.SeverityMedium
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		minSeverity:    minSeverity,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "severity":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Notifying at severity "+string(c.minSeverity)+" and above")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a detection error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Detection error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Detection recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendAnomalies sends a digest of a user's anomalies at or above the configured severity.
// It reports whether a message was sent.
func (c *Client) SendAnomalies(userID string, anomalies []*models.Anomaly) (bool, error) {
	selected := filterBySeverity(anomalies, c.minSeverity)
	if len(selected) == 0 {
		return false, nil
	}
	if err := c.sendMarkdownV2(formatMessage(userID, selected)); err != nil {
		return false, err
	}
	return true, nil
}

// filterBySeverity keeps anomalies at or above threshold, most severe first.
func filterBySeverity(anomalies []*models.Anomaly, threshold models.Severity) []*models.Anomaly {
	var out []*models.Anomaly
	for _, a := range anomalies {
		if a.Severity.Rank() >= threshold.Rank() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// formatMessage formats anomalies into a Telegram MarkdownV2 message.
func formatMessage(userID string, anomalies []*models.Anomaly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Cost anomalies for %s*\n\n", escapeMarkdownV2(userID))

	shown := anomalies
	if len(shown) > maxAnomaliesPerMessage {
		shown = shown[:maxAnomaliesPerMessage]
	}
	for i, a := range shown {
		emoji := "📈"
		if a.DetectedValue < a.ExpectedValue {
			emoji = "📉"
		}
		fmt.Fprintf(&b, "%d\\. %s *%s* \\[%s\\] %s\n",
			i+1, emoji,
			escapeMarkdownV2(a.ServiceName),
			escapeMarkdownV2(string(a.Severity)),
			escapeMarkdownV2(a.DetectedAt.Format(models.DayLayout)))
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(a.Message))
		if a.Recommendation != "" {
			fmt.Fprintf(&b, "   💡 %s\n", escapeMarkdownV2(a.Recommendation))
		}
	}
	if extra := len(anomalies) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "\n…and %d more\n", extra)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
