package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/fetch"
	"github.com/roshinpv/regulateai/pkg/update"
)

const webAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"

// MetaSelector copies the text of Selector into metadata under Key. When
// the selector matches several elements their texts are joined with ", ".
type MetaSelector struct {
	Key      string
	Selector string
}

// PageTemplate describes where entries and their fields sit in one
// agency page layout.
type PageTemplate struct {
	Entry   string // selector for one entry
	Title   string
	Date    string
	Content string
	Link    string // defaults to the first a[href] in the entry

	// UpdateType is used as-is unless Classifier is set.
	UpdateType string
	Classifier *update.Classifier

	// TitleNumber, when set, extracts its first group from the title
	// into metadata under TitleNumberKey.
	TitleNumber    *regexp.Regexp
	TitleNumberKey string

	Metadata []MetaSelector
}

// TemplateKey addresses one page template of one agency.
type TemplateKey struct {
	AgencyID string
	Name     string
}

// Templates is the table of page templates.
type Templates struct {
	mu sync.RWMutex
	m  map[TemplateKey]PageTemplate
}

// NewTemplates returns an empty table.
func NewTemplates() *Templates {
	return &Templates{m: make(map[TemplateKey]PageTemplate)}
}

// DefaultTemplates returns a table holding the built-in agency templates.
func DefaultTemplates() *Templates {
	t := NewTemplates()
	for k, tpl := range builtinTemplates {
		t.Register(k.AgencyID, k.Name, tpl)
	}
	return t
}

// Register adds or replaces a template.
func (t *Templates) Register(agencyID, name string, tpl PageTemplate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[TemplateKey{AgencyID: agencyID, Name: name}] = tpl
}

// For returns the templates of agencyID. When names is empty every
// template registered for the agency is returned, ordered by name.
func (t *Templates) For(agencyID string, names []string) []PageTemplate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(names) == 0 {
		for k := range t.m {
			if k.AgencyID == agencyID {
				names = append(names, k.Name)
			}
		}
		sort.Strings(names)
	}
	out := make([]PageTemplate, 0, len(names))
	for _, name := range names {
		if tpl, ok := t.m[TemplateKey{AgencyID: agencyID, Name: name}]; ok {
			out = append(out, tpl)
		}
	}
	return out
}

// WebCollector scrapes agency HTML pages with page templates.
type WebCollector struct {
	base
	templates []PageTemplate
}

// NewWebCollector returns a collector over cfg.WebScrapingURLs using the
// given templates.
func NewWebCollector(cfg agency.AgencyConfig, client *fetch.Client, templates []PageTemplate, deps Deps) *WebCollector {
	return &WebCollector{base: newBase(cfg, update.KindWeb, client, deps.Now), templates: templates}
}

// CollectUpdates implements Collector.
func (c *WebCollector) CollectUpdates(ctx context.Context) []update.Update {
	var out []update.Update
	for _, pageURL := range c.agency.WebScrapingURLs {
		if ctx.Err() != nil {
			break
		}
		resp, err := c.client.Get(ctx, pageURL, map[string]string{"Accept": webAccept})
		if err != nil {
			c.sourceFailed(ctx, pageURL, err)
			continue
		}
		fields, entryErrs, err := ParsePage(pageURL, resp.Body, c.templates)
		if err != nil {
			c.sourceFailed(ctx, pageURL, err)
			continue
		}
		c.entriesDropped(ctx, entryErrs)
		withSnapshot(fields, resp.Snapshot)
		out = append(out, c.emit(ctx, fields)...)
		c.logger.DebugContext(ctx, "page collected", "url", pageURL, "entries", len(fields), "dropped", len(entryErrs))
	}
	return out
}

// ParsePage applies every template to an HTML page. A bad entry is
// reported in the error slice without affecting its siblings.
func ParsePage(pageURL string, body []byte, templates []PageTemplate) ([]update.Fields, []error, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, &ParseError{Source: pageURL, Err: err}
	}

	var (
		fields []update.Fields
		errs   []error
		n      int
	)
	for _, tpl := range templates {
		doc.Find(tpl.Entry).Each(func(_ int, entry *goquery.Selection) {
			n++
			f, err := tpl.extract(pageURL, entry)
			if err != nil {
				errs = append(errs, &ParseError{Source: pageURL, Entry: n, Err: err})
				return
			}
			fields = append(fields, f)
		})
	}
	return fields, errs, nil
}

func (tpl PageTemplate) extract(pageURL string, entry *goquery.Selection) (update.Fields, error) {
	title := update.CleanText(entry.Find(tpl.Title).First().Text())
	if title == "" {
		return update.Fields{}, fmt.Errorf("missing title")
	}

	dateSel := entry.Find(tpl.Date).First()
	if dateSel.Length() == 0 {
		return update.Fields{}, fmt.Errorf("missing date")
	}
	rawDate := update.CleanText(dateSel.Text())
	if rawDate == "" {
		// <time datetime="2024-01-15">
		rawDate, _ = dateSel.Attr("datetime")
	}
	published, err := update.ParseDate(rawDate, update.WebLayouts)
	if err != nil {
		return update.Fields{}, err
	}

	content := ""
	if tpl.Content != "" {
		content = update.CleanText(entry.Find(tpl.Content).First().Text())
	}

	linkSel := "a[href]"
	if tpl.Link != "" {
		linkSel = tpl.Link
	}
	href, _ := entry.Find(linkSel).First().Attr("href")

	md := update.NewMetadata()
	if tpl.TitleNumber != nil && tpl.TitleNumberKey != "" {
		if m := tpl.TitleNumber.FindStringSubmatch(title); len(m) > 1 {
			md.SetString(tpl.TitleNumberKey, m[1])
		}
	}
	for _, ms := range tpl.Metadata {
		var parts []string
		entry.Find(ms.Selector).Each(func(_ int, s *goquery.Selection) {
			if v := update.CleanText(s.Text()); v != "" {
				parts = append(parts, v)
			}
		})
		if len(parts) > 0 {
			md.SetString(ms.Key, strings.Join(parts, ", "))
		}
	}

	updateType := tpl.UpdateType
	if tpl.Classifier != nil {
		updateType = tpl.Classifier.Classify(title, content)
	}

	return update.Fields{
		Title:         title,
		Content:       content,
		UpdateType:    updateType,
		PublishedDate: published,
		URL:           ResolveLink(pageURL, href),
		Metadata:      md,
	}, nil
}

// ResolveLink makes href absolute against the page it was found on.
// Absolute, protocol-relative, root-relative and relative forms are all
// handled; an unusable href yields "".
func ResolveLink(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

var fincenClassifier = update.Classifier{
	Rules: []update.KeywordRule{
		{Label: "Advisory", Terms: []string{"advisory"}},
		{Label: "Guidance", Terms: []string{"guidance"}},
		{Label: "Notice", Terms: []string{"notice"}},
		{Label: "Enforcement Action", Terms: []string{"enforcement"}},
	},
	Default: "News Release",
}

var builtinTemplates = map[TemplateKey]PageTemplate{
	{AgencyID: "OCC", Name: "bulletins"}: {
		Entry:          "div.bulletin-entry",
		Title:          "h3",
		Date:           "span.date",
		Content:        "div.content",
		UpdateType:     "Bulletin",
		TitleNumber:    regexp.MustCompile(`Bulletin\s+(\d{4}-\d+)`),
		TitleNumberKey: "bulletin_number",
		Metadata:       []MetaSelector{{Key: "categories", Selector: "span.category"}},
	},
	{AgencyID: "FinCEN", Name: "news"}: {
		Entry:      "div.news-item",
		Title:      "h2",
		Date:       "span.date",
		Content:    "div.summary",
		Classifier: &fincenClassifier,
		Metadata:   []MetaSelector{{Key: "topics", Selector: "span.topic"}},
	},
	{AgencyID: "FHFA", Name: "news-releases"}: {
		Entry:      "article.news-release",
		Title:      "h3",
		Date:       "time",
		Content:    "div.content",
		UpdateType: "News Release",
		Metadata: []MetaSelector{
			{Key: "release_number", Selector: "span.release-number"},
			{Key: "categories", Selector: "span.category"},
		},
	},
}
