package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/roshinpv/regulateai/pkg/alert"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL        string
	Secret     string // HS256 signing key; empty disables the bearer token
	Issuer     string
	TokenTTL   time.Duration
	Timeout    time.Duration
	MaxRetries int
	Now        func() time.Time
}

// WebhookNotifier POSTs the alert as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	rc     *resty.Client
}

// NewWebhookNotifier validates cfg and returns a notifier.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook url %q must be an absolute http(s) url", cfg.URL)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "regmonitor"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r == nil || r.StatusCode() >= 500
		})

	w := &WebhookNotifier{
		url:    cfg.URL,
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    cfg.Now,
		rc:     rc,
	}
	if cfg.Secret != "" {
		w.secret = []byte(cfg.Secret)
	}
	return w, nil
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// WebhookClaims are carried by the bearer token of a signed delivery.
type WebhookClaims struct {
	jwt.RegisteredClaims
	AgencyID string `json:"agency_id"`
}

func (w *WebhookNotifier) token(a alert.Alert) (string, error) {
	now := w.now().UTC()
	claims := WebhookClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    w.issuer,
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(w.ttl)),
		},
		AgencyID: a.AgencyID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.secret)
}

func (w *WebhookNotifier) Notify(ctx context.Context, a alert.Alert) error {
	req := w.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(a)
	if w.secret != nil {
		tok, err := w.token(a)
		if err != nil {
			return fmt.Errorf("sign webhook token: %w", err)
		}
		req.SetAuthToken(tok)
	}

	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return errors.New("webhook returned " + resp.Status())
	}
	return nil
}

// VerifyWebhookToken parses a bearer token produced by a WebhookNotifier
// with the same secret. Receivers use it to authenticate deliveries.
func VerifyWebhookToken(token, secret string) (*WebhookClaims, error) {
	claims := &WebhookClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
