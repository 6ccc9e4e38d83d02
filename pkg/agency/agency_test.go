package agency

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshinpv/regulateai/pkg/update"
)

func TestDefault(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"CFPB", "FDIC", "FHFA", "FederalReserve", "FinCEN", "OCC", "SEC"}, r.IDs())
	assert.Equal(t, 7, r.Len())

	occ, ok := r.Get("OCC")
	require.True(t, ok)
	assert.Equal(t, "OCC", occ.ID)
	assert.True(t, occ.InsecureTLS)
	assert.True(t, occ.HasAccess("rss"))

	sec, ok := r.Get("SEC")
	require.True(t, ok)
	assert.Equal(t, []string{"edgar", "rules"}, sec.EndpointNames())
}

func TestParse_ResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_AGENCY_KEY", "  s3cret ")
	r, err := Parse([]byte(`
version: "1.2.0"
agencies:
  CFPB:
    name: Consumer Financial Protection Bureau
    access_methods: [API]
    api_endpoints:
      regulations: https://api.example.gov/regulations/
    api_key_env: TEST_AGENCY_KEY
`))
	require.NoError(t, err)

	c, ok := r.Get("CFPB")
	require.True(t, ok)
	assert.Equal(t, "s3cret", c.APIKey)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unsupported major version", "version: \"2.0.0\"\nagencies: {}\n"},
		{"bad version", "version: \"latest\"\nagencies: {}\n"},
		{"missing version", "agencies: {}\n"},
		{"unknown field", "version: \"1.0.0\"\nagencies:\n  OCC:\n    name: OCC\n    feeds: [x]\n"},
		{"missing name", "version: \"1.0.0\"\nagencies:\n  OCC:\n    rss_feeds: [https://a.gov/rss]\n"},
		{"bad access method", "version: \"1.0.0\"\nagencies:\n  OCC:\n    name: OCC\n    access_methods: [FTP]\n"},
		{"not yaml", "version: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agencies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1.0.0"
agencies:
  FDIC:
    name: Federal Deposit Insurance Corporation
    access_methods: [RSS]
    rss_feeds: [https://www.fdic.gov/rss/press-releases.rss]
`), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"FDIC"}, r.IDs())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// TestRegistry_Immutable verifies accessors hand out copies.
// Invariant: the registry is not mutated after load.
func TestRegistry_Immutable(t *testing.T) {
	r, err := NewRegistry(AgencyConfig{
		ID:           "OCC",
		Name:         "OCC",
		RSSFeeds:     []string{"https://occ.gov/rss"},
		APIEndpoints: map[string]string{"a": "https://occ.gov/api"},
	})
	require.NoError(t, err)

	c, _ := r.Get("OCC")
	c.RSSFeeds[0] = "https://evil.example/rss"
	c.APIEndpoints["a"] = "https://evil.example/api"

	again, _ := r.Get("OCC")
	assert.Equal(t, "https://occ.gov/rss", again.RSSFeeds[0])
	assert.Equal(t, "https://occ.gov/api", again.APIEndpoints["a"])
}

func TestNewRegistry_Rejects(t *testing.T) {
	_, err := NewRegistry(AgencyConfig{ID: "OCC"}, AgencyConfig{ID: "OCC"})
	assert.Error(t, err)

	_, err = NewRegistry(AgencyConfig{ID: " "})
	assert.Error(t, err)
}

func TestVariants(t *testing.T) {
	tests := []struct {
		name     string
		cfg      AgencyConfig
		enabled  []update.CollectorKind
		disabled []update.CollectorKind
	}{
		{
			name: "feed and web",
			cfg: AgencyConfig{
				ID:              "OCC",
				AccessMethods:   []string{AccessRSS, AccessWeb},
				RSSFeeds:        []string{"https://occ.gov/rss.xml"},
				WebScrapingURLs: []string{"https://occ.gov/bulletins/"},
			},
			enabled: []update.CollectorKind{update.KindFeed, update.KindWeb},
		},
		{
			name: "invalid feed url disables only feed",
			cfg: AgencyConfig{
				ID:           "FDIC",
				RSSFeeds:     []string{"not a url"},
				APIEndpoints: map[string]string{"x": "https://fdic.gov/api"},
			},
			enabled:  []update.CollectorKind{update.KindAPI},
			disabled: []update.CollectorKind{update.KindFeed},
		},
		{
			name: "access method without sources",
			cfg: AgencyConfig{
				ID:            "SEC",
				AccessMethods: []string{AccessAPI},
			},
			disabled: []update.CollectorKind{update.KindAPI},
		},
		{
			name: "required key missing",
			cfg: AgencyConfig{
				ID:            "CFPB",
				APIEndpoints:  map[string]string{"regulations": "https://cfpb.gov/api"},
				RequireAPIKey: true,
				APIKeyEnv:     "CFPB_API_KEY",
			},
			disabled: []update.CollectorKind{update.KindAPI},
		},
		{
			name: "non-http scheme",
			cfg: AgencyConfig{
				ID:              "FinCEN",
				WebScrapingURLs: []string{"ftp://fincen.gov/news"},
			},
			disabled: []update.CollectorKind{update.KindWeb},
		},
		{
			name: "nothing configured",
			cfg:  AgencyConfig{ID: "EMPTY"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled, errs := Variants(tt.cfg)
			assert.Equal(t, tt.enabled, enabled)

			var disabled []update.CollectorKind
			for _, e := range errs {
				assert.Equal(t, tt.cfg.ID, e.AgencyID)
				assert.NotEmpty(t, e.Error())
				disabled = append(disabled, e.Variant)
			}
			assert.Equal(t, tt.disabled, disabled)
		})
	}
}
