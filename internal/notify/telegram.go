package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPermanent marks a send failure that retrying cannot fix, such as a
// rejected token or an unknown chat.
var ErrPermanent = errors.New("permanent notification failure")

// Channel delivers a message to a destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, destination, text string) error
}

var (
	tokenRe  = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	chatIDRe = regexp.MustCompile(`^(-?\d+|@[A-Za-z0-9_]{5,})$`)
)

// ValidToken reports whether token looks like a Telegram bot token.
func ValidToken(token string) bool { return tokenRe.MatchString(token) }

// ValidChatID reports whether id is a numeric chat id or an @channel name.
func ValidChatID(id string) bool { return chatIDRe.MatchString(id) }

// TelegramChannel sends messages through the Bot API sendMessage method.
type TelegramChannel struct {
	apiURL string
	token  string
	client *http.Client
}

func NewTelegram(apiURL, token string, timeout time.Duration) (*TelegramChannel, error) {
	if !ValidToken(token) {
		return nil, fmt.Errorf("invalid telegram bot token format")
	}
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &TelegramChannel{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to chat destination. Transport errors, 429 and 5xx are
// returned as retryable; any other non-2xx wraps ErrPermanent.
func (t *TelegramChannel) Send(ctx context.Context, destination, text string) error {
	data, err := json.Marshal(sendMessageRequest{ChatID: destination, Text: text, ParseMode: "MarkdownV2"})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPermanent, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the request URL embeds the token; never surface it
		return fmt.Errorf("telegram request failed: %s", redact(err.Error(), t.token))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed apiResponse
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && (parsed.OK || len(body) == 0) {
		return nil
	}
	desc := parsed.Description
	if desc == "" {
		desc = strings.TrimSpace(string(body))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, desc)
	}
	return fmt.Errorf("%w: telegram status %d: %s", ErrPermanent, resp.StatusCode, desc)
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}

// LogChannel writes messages to the log instead of delivering them. It is
// used when no Telegram credentials are configured.
type LogChannel struct {
	Log *logrus.Entry
}

func (l LogChannel) Name() string { return "log" }

func (l LogChannel) Send(_ context.Context, destination, text string) error {
	l.Log.WithField("destination", destination).WithField("text", text).Info("notification (dry run)")
	return nil
}
