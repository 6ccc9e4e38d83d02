package collector

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roshinpv/regulateai/pkg/update"
)

// Mapper turns one decoded API response into update fields. Per-item
// failures are returned alongside the items that mapped.
type Mapper interface {
	Map(data map[string]any) ([]update.Fields, []error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(data map[string]any) ([]update.Fields, []error)

func (f MapperFunc) Map(data map[string]any) ([]update.Fields, []error) { return f(data) }

// MapperKey addresses one agency endpoint.
type MapperKey struct {
	AgencyID string
	Endpoint string
}

// Mappers is the table of response mappers.
type Mappers struct {
	mu sync.RWMutex
	m  map[MapperKey]Mapper
}

// NewMappers returns an empty table.
func NewMappers() *Mappers {
	return &Mappers{m: make(map[MapperKey]Mapper)}
}

// DefaultMappers returns a table holding the built-in agency mappers.
func DefaultMappers() *Mappers {
	t := NewMappers()
	for k, m := range builtinMappers {
		t.Register(k.AgencyID, k.Endpoint, m)
	}
	return t
}

// Register adds or replaces the mapper for an agency endpoint.
func (t *Mappers) Register(agencyID, endpoint string, m Mapper) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[MapperKey{AgencyID: agencyID, Endpoint: endpoint}] = m
}

// Lookup returns the mapper for an agency endpoint.
func (t *Mappers) Lookup(agencyID, endpoint string) (Mapper, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.m[MapperKey{AgencyID: agencyID, Endpoint: endpoint}]
	return m, ok
}

// MetaField copies item[Field] into metadata under Key.
type MetaField struct {
	Key   string
	Field string
}

// FieldMapping is a declarative Mapper over a list of JSON objects.
type FieldMapping struct {
	ItemsKey     string // top-level key holding the item list
	Title        string // item field holding the title
	TitleFormat  string // optional fmt format applied to the title field
	TitleDefault string // used for TitleFormat when the field is absent
	Content      string
	Date         string
	URL          string
	UpdateType   string
	Metadata     []MetaField
}

// Map implements Mapper. A response without the items key maps to nothing.
func (fm FieldMapping) Map(data map[string]any) ([]update.Fields, []error) {
	raw, ok := data[fm.ItemsKey]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, []error{fmt.Errorf("%s: expected a list, got %T", fm.ItemsKey, raw)}
	}

	var (
		out  []update.Fields
		errs []error
	)
	for i, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("%s[%d]: expected an object, got %T", fm.ItemsKey, i, it))
			continue
		}
		f, err := fm.item(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", fm.ItemsKey, i, err))
			continue
		}
		out = append(out, f)
	}
	return out, errs
}

func (fm FieldMapping) item(item map[string]any) (update.Fields, error) {
	title := stringField(item, fm.Title)
	if fm.TitleFormat != "" {
		if title == "" {
			title = fm.TitleDefault
		}
		title = fmt.Sprintf(fm.TitleFormat, title)
	}
	if strings.TrimSpace(title) == "" {
		return update.Fields{}, fmt.Errorf("missing %s", fm.Title)
	}

	published, err := update.ParseDate(stringField(item, fm.Date), update.ISOLayouts)
	if err != nil {
		return update.Fields{}, fmt.Errorf("%s: %w", fm.Date, err)
	}

	md := update.NewMetadata()
	for _, mf := range fm.Metadata {
		switch v := item[mf.Field].(type) {
		case nil:
		case []any:
			if joined := joinStrings(v); joined != "" {
				md.SetString(mf.Key, joined)
			}
		default:
			md.SetAny(mf.Key, v)
		}
	}

	return update.Fields{
		Title:         title,
		Content:       stringField(item, fm.Content),
		UpdateType:    fm.UpdateType,
		PublishedDate: published,
		URL:           stringField(item, fm.URL),
		Metadata:      md,
	}, nil
}

func stringField(item map[string]any, key string) string {
	if key == "" {
		return ""
	}
	switch v := item[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func joinStrings(vs []any) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, ", ")
}

var builtinMappers = map[MapperKey]Mapper{
	{AgencyID: "SEC", Endpoint: "edgar"}: FieldMapping{
		ItemsKey:     "filings",
		Title:        "form_type",
		TitleFormat:  "SEC Filing: %s",
		TitleDefault: "Unknown",
		Content:      "description",
		Date:         "filing_date",
		URL:          "filing_url",
		UpdateType:   "Securities Filing",
		Metadata: []MetaField{
			{Key: "form_type", Field: "form_type"},
			{Key: "company_name", Field: "company_name"},
			{Key: "cik", Field: "cik"},
			{Key: "file_number", Field: "file_number"},
		},
	},
	{AgencyID: "SEC", Endpoint: "rules"}: FieldMapping{
		ItemsKey:   "rules",
		Title:      "title",
		Content:    "description",
		Date:       "effective_date",
		URL:        "url",
		UpdateType: "Rule Change",
		Metadata: []MetaField{
			{Key: "rule_number", Field: "rule_number"},
			{Key: "category", Field: "category"},
			{Key: "comment_period_ends", Field: "comment_period_ends"},
		},
	},
	{AgencyID: "CFPB", Endpoint: "regulations"}: FieldMapping{
		ItemsKey:   "regulations",
		Title:      "title",
		Content:    "summary",
		Date:       "published_date",
		URL:        "url",
		UpdateType: "Regulation",
		Metadata: []MetaField{
			{Key: "regulation_number", Field: "regulation_number"},
			{Key: "cfr_title", Field: "cfr_title"},
			{Key: "cfr_part", Field: "cfr_part"},
			{Key: "effective_date", Field: "effective_date"},
		},
	},
	{AgencyID: "CFPB", Endpoint: "enforcement"}: FieldMapping{
		ItemsKey:   "actions",
		Title:      "title",
		Content:    "description",
		Date:       "date",
		URL:        "url",
		UpdateType: "Enforcement Action",
		Metadata: []MetaField{
			{Key: "action_type", Field: "action_type"},
			{Key: "status", Field: "status"},
			{Key: "defendants", Field: "defendants"},
			{Key: "products", Field: "products"},
			{Key: "penalty_amount", Field: "penalty_amount"},
		},
	},
	{AgencyID: "FederalReserve", Endpoint: "press_releases"}: FieldMapping{
		ItemsKey:   "press_releases",
		Title:      "title",
		Content:    "content",
		Date:       "date",
		URL:        "url",
		UpdateType: "Press Release",
		Metadata: []MetaField{
			{Key: "category", Field: "category"},
			{Key: "topics", Field: "topics"},
		},
	},
	{AgencyID: "FederalReserve", Endpoint: "supervision"}: FieldMapping{
		ItemsKey:   "supervision_items",
		Title:      "title",
		Content:    "description",
		Date:       "date",
		URL:        "url",
		UpdateType: "Supervision",
		Metadata: []MetaField{
			{Key: "supervision_type", Field: "type"},
			{Key: "institutions", Field: "institutions"},
			{Key: "requirements", Field: "requirements"},
		},
	},
}
