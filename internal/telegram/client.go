package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrRecipientBlocked is returned when the chat can never receive messages
// again: the user blocked the bot, deleted the account or the chat is gone.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

// Client sends messages through the Telegram Bot API
type Client struct {
	apiURL  string
	httpc   *http.Client
	limiter *rate.Limiter
}

// Options configures a Client
type Options struct {
	Token         string
	APIBase       string  // defaults to https://api.telegram.org
	RatePerSecond float64 // global send rate; Telegram allows about 30/s
	HTTPClient    *http.Client
}

// NewClient creates a Bot API client
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		apiURL:  base + "/bot" + opts.Token,
		httpc:   httpc,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Send delivers an HTML message to a chat
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  recipient,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// SetWebhook registers the URL Telegram posts updates to
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.call(ctx, "setWebhook", map[string]any{"url": url})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: failed to encode payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode < 300 && out.OK {
		return nil
	}

	if out.Description == "" {
		out.Description = resp.Status
	}
	if blocked(resp.StatusCode, out.Description) {
		return fmt.Errorf("telegram %s: %s: %w", method, out.Description, ErrRecipientBlocked)
	}
	return fmt.Errorf("telegram %s: %d %s", method, resp.StatusCode, out.Description)
}

func blocked(status int, description string) bool {
	if status == http.StatusForbidden {
		return true
	}
	d := strings.ToLower(description)
	return strings.Contains(d, "chat not found") || strings.Contains(d, "user is deactivated")
}

// ParseCommand splits "/link abc123" or "/start@bot abc123" into its command
// and argument. ok is false for text that is not a command.
func ParseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	cmd = strings.TrimRight(strings.TrimPrefix(cmd, "/"), ":")
	return cmd, strings.Trim(strings.TrimSpace(arg), " :"), true
}
