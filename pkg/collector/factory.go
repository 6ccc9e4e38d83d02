package collector

import (
	"time"

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/fetch"
	"github.com/roshinpv/regulateai/pkg/update"
)

// Deps are the collaborators shared by every collector.
type Deps struct {
	Fetch     fetch.Options // InsecureTLS is overridden per agency for web collectors
	Mappers   *Mappers      // nil means DefaultMappers
	Templates *Templates    // nil means DefaultTemplates
	Now       func() time.Time
}

// Build returns the runnable collectors for one agency, in feed, API, web
// order, together with the variants that were disabled and why.
func Build(cfg agency.AgencyConfig, deps Deps) ([]Collector, []*agency.ConfigurationError) {
	if deps.Mappers == nil {
		deps.Mappers = DefaultMappers()
	}
	if deps.Templates == nil {
		deps.Templates = DefaultTemplates()
	}

	kinds, errs := agency.Variants(cfg)
	out := make([]Collector, 0, len(kinds))
	for _, kind := range kinds {
		opts := deps.Fetch
		opts.InsecureTLS = false

		switch kind {
		case update.KindFeed:
			out = append(out, NewFeedCollector(cfg, fetch.NewClient(opts), deps))
		case update.KindAPI:
			out = append(out, NewAPICollector(cfg, fetch.NewClient(opts), deps))
		case update.KindWeb:
			templates := deps.Templates.For(cfg.ID, cfg.WebTemplates)
			if len(templates) == 0 {
				errs = append(errs, &agency.ConfigurationError{
					AgencyID: cfg.ID,
					Variant:  update.KindWeb,
					Reason:   "no page template registered",
				})
				continue
			}
			opts.InsecureTLS = cfg.InsecureTLS
			out = append(out, NewWebCollector(cfg, fetch.NewClient(opts), templates, deps))
		}
	}
	return out, errs
}

// BuildAll builds collectors for every agency in the registry.
func BuildAll(reg *agency.Registry, deps Deps) ([]Collector, []*agency.ConfigurationError) {
	if deps.Mappers == nil {
		deps.Mappers = DefaultMappers()
	}
	if deps.Templates == nil {
		deps.Templates = DefaultTemplates()
	}
	var (
		out  []Collector
		errs []*agency.ConfigurationError
	)
	for _, cfg := range reg.All() {
		cs, es := Build(cfg, deps)
		out = append(out, cs...)
		errs = append(errs, es...)
	}
	return out, errs
}
