package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"NewsPipeline/internal/ports"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageLen = 4096

const digestHeader = "News pipeline digest"

// Notifier posts automated-cycle digests to a Telegram chat through the bot
// API. Digests are plain text; topic names may contain characters that would
// break Markdown parsing.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// PublishDigest sends the digest under a fixed header, truncated to the
// Telegram message cap.
func (n *Notifier) PublishDigest(ctx context.Context, digest string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message(digest))
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err == nil && !api.OK && api.Description != "" {
		return fmt.Errorf("telegram rejected digest: %s", api.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram rejected digest: %s", resp.Status)
	}

	return nil
}

// message prepends the digest header and enforces the length cap.
func message(digest string) string {
	text := digestHeader + "\n\n" + strings.TrimSpace(digest)
	runes := []rune(text)
	if len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen-1]) + "…"
	}
	return text
}
