package monitor

import (
	"context"
	"time"

	"github.com/roshinpv/regulateai/pkg/alert"
	"github.com/roshinpv/regulateai/pkg/update"
)

// AlertManager is the part of alert.Manager the monitor drives.
type AlertManager interface {
	ProcessUpdate(ctx context.Context, u update.Update) (string, bool, error)
	GetPendingAlerts(ctx context.Context) ([]alert.Alert, error)
	GetUnnotifiedAlerts(ctx context.Context) ([]alert.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status alert.Status, patch *update.Metadata) error
}

// AnalysisResult is what impact analysis adds to an alert.
type AnalysisResult struct {
	Metadata *update.Metadata // merged into the alert on the Analyzed transition
}

// Analyzer performs impact analysis on a New alert.
type Analyzer interface {
	Analyze(ctx context.Context, a alert.Alert) (AnalysisResult, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, a alert.Alert) (AnalysisResult, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, a alert.Alert) (AnalysisResult, error) {
	return f(ctx, a)
}

// Notifier dispatches a High priority alert.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a alert.Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a alert.Alert) error {
	return f(ctx, a)
}

// PassThroughAnalyzer accepts every alert and records when it did so.
type PassThroughAnalyzer struct {
	Now func() time.Time
}

func (p PassThroughAnalyzer) Analyze(_ context.Context, _ alert.Alert) (AnalysisResult, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	md := update.NewMetadata()
	md.SetString("analyzed_at", now().UTC().Format(time.RFC3339))
	md.SetString("analyzer", "passthrough")
	return AnalysisResult{Metadata: md}, nil
}

func notifierName(n Notifier) string {
	if named, ok := n.(interface{ Name() string }); ok {
		if name := named.Name(); name != "" {
			return name
		}
	}
	return "notifier"
}
