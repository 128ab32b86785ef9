// Package push provides push notification delivery via an HTTP push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 20 // requests per second
)

// Config holds push sender configuration.
type Config struct {
	Enabled    bool
	GatewayURL string
	ServerKey  string
	Timeout    time.Duration
	RateLimit  float64
}

// Sender delivers notifications through an FCM-style push gateway.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new push sender.
// Returns an error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.GatewayURL == "" {
			return nil, errors.New("push sender: gateway URL is required when enabled")
		}
		if config.ServerKey == "" {
			return nil, errors.New("push sender: server key is required when enabled")
		}
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("push sender configured",
		"enabled", config.Enabled,
		"gateway_url", config.GatewayURL,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Kind returns the delivery channel this sender serves.
func (s *Sender) Kind() domain.DeliveryChannel {
	return domain.DeliveryChannelPush
}

// Send delivers one notification to one recipient's device token.
// Recipients who opted out of push are skipped, never errored. Tokens the
// gateway reports as unregistered raise the InvalidIdentity signal.
func (s *Sender) Send(ctx context.Context, n *domain.QueuedNotification, rcpt *domain.Recipient) notify.Result {
	if rcpt.PushOptOut {
		slog.Debug("recipient opted out of push", "recipient_id", rcpt.ID, "notification_id", n.ID)
		return notify.Result{Skipped: true}
	}

	if rcpt.PushToken == "" || !rcpt.PushTokenValid {
		return notify.Result{Skipped: true, InvalidIdentity: rcpt.PushToken != ""}
	}

	if !s.config.Enabled {
		slog.Warn("push sender disabled, skipping send", "notification_id", n.ID)
		return notify.Result{Skipped: true}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notify.Result{Err: &notify.RetryableError{Message: fmt.Sprintf("rate limiter: %v", err)}}
	}

	err := s.post(ctx, rcpt.PushToken, n)
	if err == nil {
		return notify.Result{Delivered: true}
	}

	var unreg *unregisteredTokenError
	if errors.As(err, &unreg) {
		return notify.Result{
			InvalidIdentity: true,
			Err:             &notify.PermanentError{Message: unreg.Error(), Code: unreg.Code},
		}
	}

	return notify.Result{Err: err}
}

type pushPayload struct {
	Token string         `json:"token"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// unregisteredTokenError marks a token the gateway no longer knows.
type unregisteredTokenError struct {
	Code int
}

func (e *unregisteredTokenError) Error() string {
	return fmt.Sprintf("push token unregistered (status %d)", e.Code)
}

func (s *Sender) post(ctx context.Context, token string, n *domain.QueuedNotification) error {
	payload := pushPayload{
		Token: token,
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Payload,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.config.ServerKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &notify.RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, token)
}

func (s *Sender) handleResponse(resp *http.Response, token string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		slog.Debug("push message sent", "token", maskToken(token))
		return nil

	case http.StatusBadRequest:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or expired server key",
		}

	case http.StatusNotFound, http.StatusGone:
		return &unregisteredTokenError{Code: resp.StatusCode}

	case http.StatusTooManyRequests:
		return &notify.RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited by gateway",
		}

	default:
		if resp.StatusCode >= 500 {
			return &notify.RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("gateway error: %s", string(body)),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskToken hides most of the token for logging.
func maskToken(token string) string {
	if len(token) > 12 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	return "..."
}
