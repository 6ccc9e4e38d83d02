package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshinpv/regulateai/pkg/alert"
	"github.com/roshinpv/regulateai/pkg/update"
)

func highAlert() alert.Alert {
	md := update.NewMetadata()
	md.SetString("endpoint", "enforcement")
	return alert.Alert{
		ID:            "a-1",
		AgencyID:      "CFPB",
		Title:         "Consent order against Example Bank",
		UpdateType:    alert.TypeEnforcementAction,
		Priority:      alert.PriorityHigh,
		Status:        alert.StatusAnalyzed,
		PublishedDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		URL:           "https://www.consumerfinance.gov/enforcement/actions/example",
		CollectorKind: update.KindAPI,
		Metadata:      md,
	}
}

type stubNotifier struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(context.Context, alert.Alert) error {
	s.calls.Add(1)
	return s.err
}

func TestWebhookNotifier_SignedDelivery(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Secret: "s3cret", Issuer: "test"})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), highAlert()))

	assert.Equal(t, "a-1", gotBody["id"])
	assert.Equal(t, "High", gotBody["priority"])
	md, ok := gotBody["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "enforcement", md["endpoint"])

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	claims, err := VerifyWebhookToken(strings.TrimPrefix(gotAuth, "Bearer "), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "a-1", claims.Subject)
	assert.Equal(t, "test", claims.Issuer)
	assert.Equal(t, "CFPB", claims.AgencyID)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))

	_, err = VerifyWebhookToken(strings.TrimPrefix(gotAuth, "Bearer "), "other")
	assert.Error(t, err)
}

func TestWebhookNotifier_UnsignedAndFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)
	err = n.Notify(context.Background(), highAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(2), hits.Load(), "5xx is retried")
}

func TestNewWebhookNotifier_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://example.com/hook", "/relative"} {
		_, err := NewWebhookNotifier(WebhookConfig{URL: u})
		assert.Error(t, err, u)
	}
}

// TestMulti verifies fan-out semantics.
// Invariant: every notifier is attempted; success requires all to succeed.
func TestMulti(t *testing.T) {
	ok := &stubNotifier{name: "ok"}
	bad := &stubNotifier{name: "bad", err: errors.New("smtp down")}
	last := &stubNotifier{name: "last"}

	m := Multi(ok, nil, bad, last)
	assert.Equal(t, "ok,bad,last", m.Name())

	err := m.Notify(context.Background(), highAlert())
	require.Error(t, err)
	var ne *Error
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "bad", ne.Notifier)
	assert.Equal(t, "a-1", ne.AlertID)
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(1), last.calls.Load(), "a failure does not stop fan-out")

	assert.NoError(t, Multi(ok, last, NewLogNotifier()).Notify(context.Background(), highAlert()))
}
