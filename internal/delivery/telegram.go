// Package delivery uploads export archives to a chat through the Telegram
// Bot API.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	slogctx "github.com/veqryn/slog-context"
)

const maxCaptionLength = 1024

var (
	ErrNoToken            = errors.New("bot token is not configured")
	ErrInvalidDestination = errors.New("destination must be a numeric chat id or an @channel name")
)

// Receipt identifies a delivered document.
type Receipt struct {
	MessageID int
	FileID    string
}

type Telegram struct {
	token      string
	endpoint   string
	httpClient *http.Client
	retries    uint64
	backoff    time.Duration
	status     *statusTransport

	// mu serialises the uploads so the recorded status belongs to the
	// running attempt.
	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

type Option func(*Telegram)

// WithEndpoint overrides the Bot API endpoint format, tgbotapi.APIEndpoint by default.
func WithEndpoint(endpoint string) Option {
	return func(t *Telegram) {
		if endpoint != "" {
			t.endpoint = endpoint
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithRetries sets how many times a failed upload is retried and the base of
// the exponential backoff between attempts.
func WithRetries(retries uint64, backoff time.Duration) Option {
	return func(t *Telegram) {
		t.retries = retries
		if backoff > 0 {
			t.backoff = backoff
		}
	}
}

func NewTelegram(token string, opts ...Option) *Telegram {
	t := &Telegram{
		token:      token,
		endpoint:   tgbotapi.APIEndpoint,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		retries:    3,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}

	next := t.httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	t.status = &statusTransport{next: next}
	client := *t.httpClient
	client.Transport = t.status
	t.httpClient = &client

	return t
}

// Deliver sends the archive as a document to destination. Rate limits,
// server errors and network failures are retried.
func (t *Telegram) Deliver(ctx context.Context, archivePath, destination, caption string) (Receipt, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return Receipt{}, fmt.Errorf("archive: %w", err)
	}

	doc := tgbotapi.DocumentConfig{}
	doc.File = tgbotapi.FilePath(archivePath)
	doc.Caption = truncate(caption, maxCaptionLength)

	destination = strings.TrimSpace(destination)
	if chatID, err := strconv.ParseInt(destination, 10, 64); err == nil {
		doc.ChatID = chatID
	} else if strings.HasPrefix(destination, "@") && len(destination) > 1 {
		doc.ChannelUsername = destination
	} else {
		return Receipt{}, ErrInvalidDestination
	}

	var msg tgbotapi.Message
	b := retry.WithMaxRetries(t.retries, retry.NewExponential(t.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var (
			status int
			err    error
		)
		msg, status, err = t.send(doc)
		if err != nil {
			slogctx.Warn(ctx, "Document upload failed", "status", status, "error", err)
			return classify(ctx, err, status)
		}

		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("sending document: %w", err)
	}

	r := Receipt{MessageID: msg.MessageID}
	if msg.Document != nil {
		r.FileID = msg.Document.FileID
	}

	return r, nil
}

// send uploads the document and returns the HTTP status of the last response,
// zero when no response was received.
func (t *Telegram) send(doc tgbotapi.DocumentConfig) (tgbotapi.Message, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.reset()
	bot, err := t.client()
	if err != nil {
		return tgbotapi.Message{}, t.status.last(), err
	}

	t.status.reset()
	msg, err := bot.Send(doc)

	return msg, t.status.last(), err
}

// client returns the bot, creating it on first successful use. Callers hold mu.
func (t *Telegram) client() (*tgbotapi.BotAPI, error) {
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" {
		return nil, ErrNoToken
	}

	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating bot client: %w", err)
	}
	t.bot = bot

	return bot, nil
}

// classify marks rate limits, server errors and failures without an API
// answer as retryable. Upload errors of tgbotapi carry no error code, so the
// HTTP status recorded by the transport decides. A rate limit waits for the
// advertised delay first.
func classify(ctx context.Context, err error, status int) error {
	if errors.Is(err, ErrNoToken) {
		return err
	}

	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return retry.RetryableError(err)
	}

	if apiErr.RetryAfter > 0 {
		select {
		case <-time.After(time.Duration(apiErr.RetryAfter) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}

		return retry.RetryableError(err)
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return retry.RetryableError(err)
	}

	return err
}

// statusTransport records the status of the last response it carried.
type statusTransport struct {
	next   http.RoundTripper
	status atomic.Int32
}

func (s *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if err == nil {
		s.status.Store(int32(resp.StatusCode))
	}

	return resp, err
}

func (s *statusTransport) reset() {
	s.status.Store(0)
}

func (s *statusTransport) last() int {
	return int(s.status.Load())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
