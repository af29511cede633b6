package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/notifier"
)

const defaultAPIURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   defaultAPIURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithAPIURL points the notifier at a different Bot API host.
func (t *Telegram) WithAPIURL(url string) *Telegram {
	t.apiURL = strings.TrimRight(url, "/")
	return t
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token, ok := cfg.Params["bot_token"].(string); ok {
		t.botToken = token
	}
	if chatID, ok := cfg.Params["chat_id"].(string); ok {
		t.chatID = chatID
	}
	if url, ok := cfg.Params["api_url"].(string); ok && url != "" {
		t.WithAPIURL(url)
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}

	return nil
}

func (t *Telegram) Send(ctx context.Context, signal core.Signal) error {
	return t.sendMessage(ctx, formatSignal(signal))
}

func (t *Telegram) SendBatch(ctx context.Context, signals []core.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *%d selected on %s*\n\n", len(signals), signals[0].Date.Format(time.DateOnly))

	for i, signal := range signals {
		sb.WriteString(formatSignal(signal))
		if i < len(signals)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

func formatSignal(signal core.Signal) string {
	var sb strings.Builder

	mark := "✅"
	if !signal.Selected {
		mark = "▫️"
	}

	title := signal.Symbol
	if signal.Name != "" {
		title += " " + signal.Name
	}
	fmt.Fprintf(&sb, "%s *%s*\n", mark, title)

	if signal.Strategy != "" {
		fmt.Fprintf(&sb, "🎯 Strategy: %s\n", signal.Strategy)
	}
	if signal.Reason != "" {
		fmt.Fprintf(&sb, "💡 Reason: %s\n", signal.Reason)
	}
	if signal.Price > 0 {
		fmt.Fprintf(&sb, "💰 Close: %.2f\n", signal.Price)
	}

	fmt.Fprintf(&sb, "📅 Date: %s", signal.Date.Format(time.DateOnly))

	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	base := t.apiURL
	if base == "" {
		base = defaultAPIURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
