package agency

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/roshinpv/regulateai/pkg/update"
)

// ConfigurationError disables one collector variant of one agency.
type ConfigurationError struct {
	AgencyID string
	Variant  update.CollectorKind
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("agency %s: %s collector disabled: %s", e.AgencyID, e.Variant, e.Reason)
}

// Variants returns the collector variants that can run for c, plus one
// ConfigurationError per variant that is configured but unusable.
// A variant with no sources is simply absent.
func Variants(c AgencyConfig) ([]update.CollectorKind, []*ConfigurationError) {
	var (
		enabled []update.CollectorKind
		errs    []*ConfigurationError
	)
	fail := func(kind update.CollectorKind, format string, args ...any) {
		errs = append(errs, &ConfigurationError{AgencyID: c.ID, Variant: kind, Reason: fmt.Sprintf(format, args...)})
	}

	switch {
	case len(c.RSSFeeds) > 0:
		if bad := firstInvalidURL(c.RSSFeeds); bad != "" {
			fail(update.KindFeed, "invalid feed url %q", bad)
		} else {
			enabled = append(enabled, update.KindFeed)
		}
	case c.HasAccess(AccessRSS):
		fail(update.KindFeed, "access method %s listed but no rss_feeds configured", AccessRSS)
	}

	switch {
	case len(c.APIEndpoints) > 0:
		urls := make([]string, 0, len(c.APIEndpoints))
		for _, name := range c.EndpointNames() {
			urls = append(urls, c.APIEndpoints[name])
		}
		if bad := firstInvalidURL(urls); bad != "" {
			fail(update.KindAPI, "invalid api endpoint %q", bad)
		} else if c.RequireAPIKey && strings.TrimSpace(c.APIKey) == "" {
			fail(update.KindAPI, "api key required but not set (env %q)", c.APIKeyEnv)
		} else {
			enabled = append(enabled, update.KindAPI)
		}
	case c.HasAccess(AccessAPI):
		fail(update.KindAPI, "access method %s listed but no api_endpoints configured", AccessAPI)
	}

	switch {
	case len(c.WebScrapingURLs) > 0:
		if bad := firstInvalidURL(c.WebScrapingURLs); bad != "" {
			fail(update.KindWeb, "invalid scrape url %q", bad)
		} else {
			enabled = append(enabled, update.KindWeb)
		}
	case c.HasAccess(AccessWeb):
		fail(update.KindWeb, "access method %s listed but no web_scraping_urls configured", AccessWeb)
	}

	return enabled, errs
}

func firstInvalidURL(urls []string) string {
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return raw
		}
	}
	return ""
}
