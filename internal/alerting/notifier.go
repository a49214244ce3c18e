package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FailedJob describes one job that did not complete.
type FailedJob struct {
	Job    string
	Status string
	Error  string
}

// Notification carries the context of an invocation that had failures.
type Notification struct {
	InvocationID string
	Cadence      string
	StartedAt    time.Time
	Duration     time.Duration
	Environment  string
	Failures     []FailedJob
}

// Notifier delivers failure notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with a rendered summary.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Str("invocation_id", note.InvocationID).
		Str("cadence", note.Cadence).
		Int("failures", len(note.Failures)).
		Msg("failure notification sent")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("[token-indexer] invocation had failures\n")
	if note.Environment != "" {
		fmt.Fprintf(&b, "Environment: %s\n", note.Environment)
	}
	fmt.Fprintf(&b, "Cadence: %s\n", note.Cadence)
	fmt.Fprintf(&b, "Invocation: %s\n", note.InvocationID)
	fmt.Fprintf(&b, "Started: %s UTC (%s)\n", note.StartedAt.UTC().Format(time.RFC3339), note.Duration.Round(time.Millisecond))
	for _, f := range note.Failures {
		fmt.Fprintf(&b, "- %s %s: %s\n", f.Job, f.Status, f.Error)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
