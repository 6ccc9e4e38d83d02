// Package monitor runs one collection cycle: collect from every agency,
// turn updates into alerts, then analyze and notify pending alerts.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/roshinpv/regulateai/pkg/alert"
	"github.com/roshinpv/regulateai/pkg/collector"
	"github.com/roshinpv/regulateai/pkg/notify"
	"github.com/roshinpv/regulateai/pkg/observability"
	"github.com/roshinpv/regulateai/pkg/update"
)

// DefaultMaxConcurrency bounds concurrent collector runs.
const DefaultMaxConcurrency = 10

// CycleReport summarizes one cycle.
type CycleReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Collected  map[string]int `json:"collected"` // updates per agency

	CollectorRuns   int `json:"collector_runs"`
	CollectorPanics int `json:"collector_panics"`

	AlertsCreated   int `json:"alerts_created"`
	AlertsDuplicate int `json:"alerts_duplicate"`
	AlertsFailed    int `json:"alerts_failed"`

	Analyzed       int `json:"analyzed"`
	AnalysisFailed int `json:"analysis_failed"`
	Notified       int `json:"notified"`
	NotifyFailed   int `json:"notify_failed"`
}

// TotalCollected returns the number of updates collected across agencies.
func (r *CycleReport) TotalCollected() int {
	n := 0
	for _, c := range r.Collected {
		n += c
	}
	return n
}

// Monitor owns the collectors and collaborators of a cycle.
type Monitor struct {
	collectors     []collector.Collector
	alerts         AlertManager
	analyzer       Analyzer
	notifier       Notifier
	maxConcurrency int
	obs            *observability.Provider
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAnalyzer sets the impact analyzer. The default is PassThroughAnalyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(m *Monitor) {
		if a != nil {
			m.analyzer = a
		}
	}
}

// WithNotifier sets the High priority dispatcher. The default logs.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithMaxConcurrency bounds concurrent collector runs.
func WithMaxConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxConcurrency = n
		}
	}
}

// WithObservability attaches spans and metrics.
func WithObservability(p *observability.Provider) Option {
	return func(m *Monitor) {
		if p != nil {
			m.obs = p
		}
	}
}

// WithClock sets the time source for reports.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a Monitor over collectors and alerts.
func New(collectors []collector.Collector, alerts AlertManager, opts ...Option) *Monitor {
	m := &Monitor{
		collectors:     collectors,
		alerts:         alerts,
		notifier:       notify.NewLogNotifier(),
		maxConcurrency: DefaultMaxConcurrency,
		obs:            observability.Disabled(),
		now:            time.Now,
		logger:         slog.Default().With("component", "monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.analyzer == nil {
		m.analyzer = PassThroughAnalyzer{Now: m.now}
	}
	return m
}

// Collectors returns the collectors the monitor runs.
func (m *Monitor) Collectors() []collector.Collector {
	return m.collectors
}

// RunCycle performs collection, grouping, alerting and pending-alert
// processing once. Failures of individual collectors, updates and alerts
// are counted in the report and never abort the cycle. The error is
// non-nil only when the pending alerts cannot be read or ctx ends.
func (m *Monitor) RunCycle(ctx context.Context) (report *CycleReport, err error) {
	ctx, finish := m.obs.TrackOperation(ctx, "monitor.cycle")
	defer func() { finish(err) }()

	report = &CycleReport{
		StartedAt: m.now().UTC(),
		Collected: make(map[string]int),
	}
	defer func() { report.FinishedAt = m.now().UTC() }()

	m.logger.InfoContext(ctx, "cycle started", "collectors", len(m.collectors))

	updates := m.collect(ctx, report)
	byAgency := GroupByAgency(updates)
	for _, id := range sortedKeys(byAgency) {
		report.Collected[id] = len(byAgency[id])
	}

	for _, id := range sortedKeys(byAgency) {
		for _, u := range byAgency[id] {
			m.alertOne(ctx, report, u)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	attempted, err := m.processPending(ctx, report)
	if err != nil {
		return report, err
	}
	m.retryNotifications(ctx, report, attempted)

	m.logger.InfoContext(ctx, "cycle finished",
		"collected", report.TotalCollected(),
		"created", report.AlertsCreated,
		"duplicate", report.AlertsDuplicate,
		"alert_failures", report.AlertsFailed,
		"analyzed", report.Analyzed,
		"notified", report.Notified,
	)
	return report, ctx.Err()
}

type runResult struct {
	updates  []update.Update
	panicked bool
}

// collect runs every collector with at most maxConcurrency in flight.
func (m *Monitor) collect(ctx context.Context, report *CycleReport) []update.Update {
	results := make([]runResult, len(m.collectors))
	sem := make(chan struct{}, m.maxConcurrency)
	var wg sync.WaitGroup

	for i, c := range m.collectors {
		wg.Add(1)
		go func(i int, c collector.Collector) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			results[i] = m.runCollector(ctx, c)
		}(i, c)
	}
	wg.Wait()

	var out []update.Update
	for _, r := range results {
		out = append(out, r.updates...)
	}
	report.CollectorRuns = len(m.collectors)
	for _, r := range results {
		if r.panicked {
			report.CollectorPanics++
		}
	}
	return out
}

func (m *Monitor) runCollector(ctx context.Context, c collector.Collector) (res runResult) {
	agencyID, kind := c.AgencyID(), string(c.Kind())
	ctx, finish := m.obs.TrackOperation(ctx, "collector.run", observability.CollectorRun(agencyID, kind)...)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("collector panic: %v", r)
			m.logger.ErrorContext(ctx, "collector panicked",
				"agency", agencyID, "kind", kind, "panic", r, "stack", string(debug.Stack()))
			m.obs.RecordCollectorPanic(ctx, agencyID, kind)
			res = runResult{panicked: true}
			finish(err)
		}
	}()

	updates := c.CollectUpdates(ctx)
	tagged := make([]update.Update, 0, len(updates))
	for _, u := range updates {
		tagged = append(tagged, u.WithKind(c.Kind()))
	}
	m.obs.RecordCollected(ctx, agencyID, kind, len(tagged))
	finish(nil)
	return runResult{updates: tagged}
}

func (m *Monitor) alertOne(ctx context.Context, report *CycleReport, u update.Update) {
	_, created, err := m.alerts.ProcessUpdate(ctx, u)
	switch {
	case err != nil:
		report.AlertsFailed++
		m.obs.RecordAlert(ctx, u.AgencyID, "failed")
	case created:
		report.AlertsCreated++
		m.obs.RecordAlert(ctx, u.AgencyID, "created")
	default:
		report.AlertsDuplicate++
		m.obs.RecordAlert(ctx, u.AgencyID, "duplicate")
	}
}

// processPending analyzes every New alert, most urgent first, and notifies
// the High ones. It returns the ids whose delivery was attempted.
func (m *Monitor) processPending(ctx context.Context, report *CycleReport) (map[string]bool, error) {
	pending, err := m.alerts.GetPendingAlerts(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "pending alerts unavailable", "error", err)
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}

	attempted := make(map[string]bool)
	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		res, err := m.analyze(ctx, a)
		if err != nil {
			report.AnalysisFailed++
			m.logger.WarnContext(ctx, "analysis failed", "id", a.ID, "agency", a.AgencyID, "error", err)
			continue
		}
		if err := m.alerts.UpdateAlertStatus(ctx, a.ID, alert.StatusAnalyzed, res.Metadata); err != nil {
			report.AnalysisFailed++
			m.logger.ErrorContext(ctx, "mark analyzed failed", "id", a.ID, "error", err)
			continue
		}
		report.Analyzed++

		a.Status = alert.StatusAnalyzed
		a.Metadata = a.Metadata.Clone()
		a.Metadata.Merge(res.Metadata)
		if a.Priority == alert.PriorityHigh {
			attempted[a.ID] = true
			m.notifyOne(ctx, report, a)
		}
	}
	return attempted, nil
}

// analyze runs the analyzer on one alert. A panic is returned as an error
// and the alert stays New for the next cycle.
func (m *Monitor) analyze(ctx context.Context, a alert.Alert) (res AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "analyzer panicked",
				"id", a.ID, "agency", a.AgencyID, "panic", r, "stack", string(debug.Stack()))
			res, err = AnalysisResult{}, fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return m.analyzer.Analyze(ctx, a)
}

// retryNotifications delivers High alerts that were analyzed in an earlier
// cycle but whose notification failed. Alerts already attempted in this
// cycle are left for the next one.
func (m *Monitor) retryNotifications(ctx context.Context, report *CycleReport, attempted map[string]bool) {
	unnotified, err := m.alerts.GetUnnotifiedAlerts(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "unnotified alerts unavailable", "error", err)
		return
	}
	for _, a := range unnotified {
		if ctx.Err() != nil {
			return
		}
		if attempted[a.ID] {
			continue
		}
		m.notifyOne(ctx, report, a)
	}
}

func (m *Monitor) notifyOne(ctx context.Context, report *CycleReport, a alert.Alert) {
	via := notifierName(m.notifier)
	ctx, span := m.obs.StartAlertSpan(ctx, "alert.notify", a.ID, a.AgencyID,
		observability.AttrNotifier.String(via))
	defer span.End()

	if err := m.deliver(ctx, a); err != nil {
		span.RecordError(err)
		report.NotifyFailed++
		m.obs.RecordNotification(ctx, via, false)
		m.logger.WarnContext(ctx, "notification failed", "id", a.ID, "agency", a.AgencyID, "via", via, "error", err)
		return
	}
	m.obs.RecordNotification(ctx, via, true)

	patch := update.NewMetadata()
	patch.SetString("notified_via", via)
	if err := m.alerts.UpdateAlertStatus(ctx, a.ID, alert.StatusNotified, patch); err != nil {
		span.RecordError(err)
		report.NotifyFailed++
		m.logger.ErrorContext(ctx, "mark notified failed", "id", a.ID, "error", err)
		return
	}
	report.Notified++
}

// deliver calls the notifier, turning a panic into an error.
func (m *Monitor) deliver(ctx context.Context, a alert.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "notifier panicked",
				"id", a.ID, "agency", a.AgencyID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return m.notifier.Notify(ctx, a)
}

// GroupByAgency partitions updates by agency id, keeping input order
// within each group.
func GroupByAgency(updates []update.Update) map[string][]update.Update {
	out := make(map[string][]update.Update)
	for _, u := range updates {
		out[u.AgencyID] = append(out[u.AgencyID], u)
	}
	return out
}

func sortedKeys(m map[string][]update.Update) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
