package alert

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshinpv/regulateai/pkg/update"
)

// TestNormalizeType covers the keyword table.
// Invariant: "bulletin" in any case maps to Bulletin; unknown maps to Other.
func TestNormalizeType(t *testing.T) {
	cases := map[string]UpdateType{
		"Enforcement Action":   TypeEnforcementAction,
		"EnforcementAction":    TypeEnforcementAction,
		"Press Release":        TypePressRelease,
		"NEWS RELEASE":         TypePressRelease,
		"bulletin":             TypeBulletin,
		"BULLETIN":             TypeBulletin,
		"OCC BuLLeTiN 2024-3":  TypeBulletin,
		"Advisory":             TypeAdvisory,
		"Guidance":             TypeGuidance,
		"Public Notice":        TypeNotice,
		"Rule Change":          TypeRuleChange,
		"RuleChange":           TypeRuleChange,
		"Regulation":           TypeRuleChange,
		"Securities Filing":    TypeOther,
		"General Update":       TypeOther,
		"":                     TypeOther,
		"   ":                  TypeOther,
		"enforcement bulletin": TypeEnforcementAction,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

// TestDedupKey verifies the key is stable across cosmetic differences and
// sensitive to the identifying fields.
func TestDedupKey(t *testing.T) {
	pub := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	k := DedupKey("OCC", "Bulletin 2024-3", pub)
	assert.Len(t, k, 64)

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, k, DedupKey("OCC", "  Bulletin   2024-3 ", pub.In(est)), "whitespace and zone do not matter")
	assert.Equal(t, k, DedupKey("OCC", "Bulletin 2024-3", pub.Add(300*time.Millisecond)), "sub-second precision is ignored")

	assert.NotEqual(t, k, DedupKey("FDIC", "Bulletin 2024-3", pub))
	assert.NotEqual(t, k, DedupKey("OCC", "Bulletin 2024-4", pub))
	assert.NotEqual(t, k, DedupKey("OCC", "Bulletin 2024-3", pub.Add(time.Second)))

	// U+00E9 versus e + U+0301
	assert.Equal(t, DedupKey("X", "R\u00e9gle", pub), DedupKey("X", "Re\u0301gle", pub))
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusNew, StatusNew, true},
		{StatusNew, StatusAnalyzed, true},
		{StatusNew, StatusNotified, false},
		{StatusAnalyzed, StatusAnalyzed, true},
		{StatusAnalyzed, StatusNotified, true},
		{StatusAnalyzed, StatusNew, false},
		{StatusNotified, StatusNotified, true},
		{StatusNotified, StatusAnalyzed, false},
		{StatusNotified, StatusNew, false},
		{StatusNew, Status("Archived"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatusAndPriority(t *testing.T) {
	s, err := ParseStatus("analyzed")
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzed, s)
	_, err = ParseStatus("done")
	assert.Error(t, err)

	p, err := ParsePriority(" high ")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
}

func TestDefaultPriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, DefaultPriority(TypeEnforcementAction))
	assert.Equal(t, PriorityHigh, DefaultPriority(TypeRuleChange))
	for _, typ := range []UpdateType{TypeGuidance, TypeAdvisory, TypeBulletin, TypeNotice} {
		assert.Equal(t, PriorityMedium, DefaultPriority(typ), typ)
	}
	assert.Equal(t, PriorityLow, DefaultPriority(TypePressRelease))
	assert.Equal(t, PriorityLow, DefaultPriority(TypeOther))
}

func TestRulePolicy(t *testing.T) {
	p, err := NewRulePolicy([]Rule{
		{Name: "sec-filings", When: `agency_id == "SEC" && title.startsWith("SEC Filing: 8-K")`, Priority: PriorityHigh},
		{Name: "press-demote", When: `update_type == "EnforcementAction" && collector_kind == "web"`, Priority: PriorityMedium},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	u := update.Update{AgencyID: "SEC", Title: "SEC Filing: 8-K", CollectorKind: update.KindAPI}
	assert.Equal(t, PriorityHigh, p.Priority(u, TypeOther))

	u = update.Update{AgencyID: "OCC", Title: "x", CollectorKind: update.KindWeb}
	assert.Equal(t, PriorityMedium, p.Priority(u, TypeEnforcementAction))

	u.CollectorKind = update.KindFeed
	assert.Equal(t, PriorityHigh, p.Priority(u, TypeEnforcementAction), "falls back to the table")
}

func TestNewRulePolicy_ReportsEveryBadRule(t *testing.T) {
	_, err := NewRulePolicy([]Rule{
		{Name: "syntax", When: `agency_id ==`, Priority: PriorityHigh},
		{Name: "not-bool", When: `title`, Priority: PriorityHigh},
		{Name: "unknown-var", When: `severity > 3`, Priority: PriorityHigh},
		{Name: "no-priority", When: `true`},
	})
	require.Error(t, err)
	for _, name := range []string{"syntax", "not-bool", "unknown-var", "no-priority"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: fincen-advisory
    when: agency_id == "FinCEN" && update_type == "Advisory"
    priority: high
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, PriorityHigh, rules[0].Priority)

	p, err := NewRulePolicy(rules)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p.Priority(update.Update{AgencyID: "FinCEN"}, TypeAdvisory))

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - priority: urgent\n"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
