// Package agency holds the immutable registry of monitored regulators and
// the per-agency collector configuration loaded at startup.
package agency

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Access methods as written in registry documents.
const (
	AccessRSS = "RSS"
	AccessAPI = "API"
	AccessWeb = "Web Scraping"
)

// AgencyConfig is the collector configuration for one agency.
type AgencyConfig struct {
	ID              string            `yaml:"-" json:"agency_id"`
	Name            string            `yaml:"name" json:"name"`
	UpdateTypes     []string          `yaml:"update_types" json:"update_types"`
	AccessMethods   []string          `yaml:"access_methods" json:"access_methods"`
	RSSFeeds        []string          `yaml:"rss_feeds,omitempty" json:"rss_feeds,omitempty"`
	APIEndpoints    map[string]string `yaml:"api_endpoints,omitempty" json:"api_endpoints,omitempty"`
	WebScrapingURLs []string          `yaml:"web_scraping_urls,omitempty" json:"web_scraping_urls,omitempty"`
	APIKey          string            `yaml:"api_key,omitempty" json:"-"`
	APIKeyEnv       string            `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	RequireAPIKey   bool              `yaml:"require_api_key,omitempty" json:"require_api_key,omitempty"`
	AuthHeader      string            `yaml:"auth_header,omitempty" json:"auth_header,omitempty"`
	InsecureTLS     bool              `yaml:"insecure_tls,omitempty" json:"insecure_tls,omitempty"`
	WebTemplates    []string          `yaml:"web_templates,omitempty" json:"web_templates,omitempty"`
}

// HasAccess reports whether method is listed, ignoring case.
func (c AgencyConfig) HasAccess(method string) bool {
	for _, m := range c.AccessMethods {
		if strings.EqualFold(strings.TrimSpace(m), method) {
			return true
		}
	}
	return false
}

// EndpointNames returns the configured API endpoint names, sorted.
func (c AgencyConfig) EndpointNames() []string {
	names := make([]string, 0, len(c.APIEndpoints))
	for name := range c.APIEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c AgencyConfig) clone() AgencyConfig {
	c.UpdateTypes = slices.Clone(c.UpdateTypes)
	c.AccessMethods = slices.Clone(c.AccessMethods)
	c.RSSFeeds = slices.Clone(c.RSSFeeds)
	c.APIEndpoints = maps.Clone(c.APIEndpoints)
	c.WebScrapingURLs = slices.Clone(c.WebScrapingURLs)
	c.WebTemplates = slices.Clone(c.WebTemplates)
	return c
}

// Registry maps agency IDs to their configuration. It is never mutated
// after construction; accessors hand out copies.
type Registry struct {
	agencies map[string]AgencyConfig
	ids      []string
}

// NewRegistry builds a registry from configs. IDs must be unique and non-empty.
func NewRegistry(configs ...AgencyConfig) (*Registry, error) {
	r := &Registry{agencies: make(map[string]AgencyConfig, len(configs))}
	for _, c := range configs {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("agency with empty id (name %q)", c.Name)
		}
		if _, dup := r.agencies[id]; dup {
			return nil, fmt.Errorf("duplicate agency id %q", id)
		}
		c.ID = id
		r.agencies[id] = c.clone()
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns a copy of the configuration for id.
func (r *Registry) Get(id string) (AgencyConfig, bool) {
	c, ok := r.agencies[id]
	if !ok {
		return AgencyConfig{}, false
	}
	return c.clone(), true
}

// IDs returns all agency IDs, sorted.
func (r *Registry) IDs() []string {
	return slices.Clone(r.ids)
}

// Len returns the number of agencies.
func (r *Registry) Len() int {
	return len(r.ids)
}

// All returns copies of every configuration, ordered by ID.
func (r *Registry) All() []AgencyConfig {
	out := make([]AgencyConfig, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.agencies[id].clone())
	}
	return out
}
