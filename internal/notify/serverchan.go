package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/events"
)

const serverChanBase = "https://sctapi.ftqq.com"

// titleLimit is the ServerChan maximum title length.
const titleLimit = 32

// ServerChan pushes notifications through the ServerChan (Server酱) relay,
// which forwards them to WeChat.
type ServerChan struct {
	base   string
	key    string
	client *http.Client
}

// NewServerChan creates a ServerChan notifier for the given send key.
func NewServerChan(key string) *ServerChan {
	return &ServerChan{
		base:   serverChanBase,
		key:    key,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name for logging.
func (s *ServerChan) Name() string { return "serverchan" }

// Send posts the event to the ServerChan push endpoint.
func (s *ServerChan) Send(ctx context.Context, event events.Event) error {
	title := formatTitle(event.Kind)
	if len(title) > titleLimit {
		title = title[:titleLimit]
	}

	form := url.Values{}
	form.Set("title", title)
	form.Set("desp", formatMessage(event))
	form.Set("noip", "1")

	endpoint := fmt.Sprintf("%s/%s.send", s.base, s.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create serverchan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send serverchan request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("serverchan returned %s", resp.Status)
	}
	return nil
}
