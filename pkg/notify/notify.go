// Package notify delivers High priority alerts to people and systems.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/roshinpv/regulateai/pkg/alert"
)

// Notifier dispatches one alert. A nil error means delivery succeeded.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert) error
	Name() string
}

// LogNotifier writes the alert to the structured log. It never fails.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier on the default logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "notify")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, a alert.Alert) error {
	n.logger.InfoContext(ctx, "regulatory alert",
		"id", a.ID,
		"agency", a.AgencyID,
		"type", string(a.UpdateType),
		"priority", string(a.Priority),
		"title", a.Title,
		"url", a.URL,
	)
	return nil
}

type multi []Notifier

// Multi fans an alert out to every notifier. Every notifier is attempted;
// the result is nil only when all of them succeed.
func Multi(ns ...Notifier) Notifier {
	out := make(multi, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Name() string {
	names := make([]string, len(m))
	for i, n := range m {
		names[i] = n.Name()
	}
	return strings.Join(names, ",")
}

func (m multi) Notify(ctx context.Context, a alert.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, &Error{Notifier: n.Name(), AlertID: a.ID, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Error is a failed delivery.
type Error struct {
	Notifier string
	AlertID  string
	Err      error
}

func (e *Error) Error() string {
	return "notify " + e.Notifier + " for alert " + e.AlertID + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
