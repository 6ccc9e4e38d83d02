package collector

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/fetch"
	"github.com/roshinpv/regulateai/pkg/update"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

// entryXPath matches RSS 2.0 and RDF items as well as Atom entries,
// whatever namespace the document declares.
const entryXPath = "//*[local-name()='item' or local-name()='entry']"

// FeedCollector reads RSS and Atom feeds.
type FeedCollector struct {
	base
}

// NewFeedCollector returns a collector over cfg.RSSFeeds.
func NewFeedCollector(cfg agency.AgencyConfig, client *fetch.Client, deps Deps) *FeedCollector {
	return &FeedCollector{base: newBase(cfg, update.KindFeed, client, deps.Now)}
}

// CollectUpdates implements Collector.
func (c *FeedCollector) CollectUpdates(ctx context.Context) []update.Update {
	var out []update.Update
	for _, feedURL := range c.agency.RSSFeeds {
		if ctx.Err() != nil {
			break
		}
		resp, err := c.client.Get(ctx, feedURL, map[string]string{"Accept": feedAccept})
		if err != nil {
			c.sourceFailed(ctx, feedURL, err)
			continue
		}
		fields, entryErrs, err := ParseFeed(feedURL, resp.Body)
		if err != nil {
			c.sourceFailed(ctx, feedURL, err)
			continue
		}
		c.entriesDropped(ctx, entryErrs)
		withSnapshot(fields, resp.Snapshot)
		out = append(out, c.emit(ctx, fields)...)
		c.logger.DebugContext(ctx, "feed collected", "url", feedURL, "entries", len(fields), "dropped", len(entryErrs))
	}
	return out
}

// ParseFeed extracts entries from an RSS or Atom document. A document that
// is not XML fails as a whole; a bad entry is reported in the error slice
// and the rest are still returned.
func ParseFeed(feedURL string, body []byte) ([]update.Fields, []error, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, &ParseError{Source: feedURL, Err: err}
	}
	nodes, err := xmlquery.QueryAll(doc, entryXPath)
	if err != nil {
		return nil, nil, &ParseError{Source: feedURL, Err: err}
	}

	var (
		fields []update.Fields
		errs   []error
	)
	for i, n := range nodes {
		f, err := feedEntry(feedURL, n)
		if err != nil {
			errs = append(errs, &ParseError{Source: feedURL, Entry: i + 1, Err: err})
			continue
		}
		fields = append(fields, f)
	}
	return fields, errs, nil
}

func feedEntry(feedURL string, n *xmlquery.Node) (update.Fields, error) {
	title := update.CleanText(childText(n, "title"))
	if title == "" {
		return update.Fields{}, fmt.Errorf("missing title")
	}

	rawDate := childText(n, "pubDate", "published", "updated", "dc:date")
	published, err := update.ParseDate(rawDate, update.FeedLayouts)
	if err != nil {
		return update.Fields{}, err
	}

	content := update.StripMarkup(childText(n, "description", "summary", "content:encoded", "content"))

	md := update.NewMetadata()
	md.SetString("feed_url", feedURL)
	if guid := strings.TrimSpace(childText(n, "guid", "id")); guid != "" {
		md.SetString("guid", guid)
	}
	if author := update.CleanText(childText(n, "author", "dc:creator")); author != "" {
		md.SetString("author", author)
	}
	if cats := categories(n); len(cats) > 0 {
		md.SetString("categories", strings.Join(cats, ", "))
	}

	return update.Fields{
		Title:         title,
		Content:       content,
		UpdateType:    update.FeedClassifier.Classify(title, content),
		PublishedDate: published,
		URL:           entryLink(n),
		Metadata:      md,
	}, nil
}

// Namespaces whose elements are addressed without a prefix.
var defaultNamespaces = map[string]bool{
	"":                                 true,
	"http://www.w3.org/2005/Atom":      true,
	"http://purl.org/rss/1.0/":         true,
	"http://backend.userland.com/rss2": true,
}

// matches reports whether element c is name. Prefixed names compare the
// document prefix; bare names match the feed's own vocabulary.
func matches(c *xmlquery.Node, name string) bool {
	if prefix, local, ok := strings.Cut(name, ":"); ok {
		return c.Prefix == prefix && c.Data == local
	}
	return c.Data == name && (c.Prefix == "" || defaultNamespaces[c.NamespaceURI])
}

func childElements(n *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && matches(c, name) {
			out = append(out, c)
		}
	}
	return out
}

// childText returns the text of the first non-empty child among names,
// tried in order.
func childText(n *xmlquery.Node, names ...string) string {
	for _, name := range names {
		for _, c := range childElements(n, name) {
			if s := strings.TrimSpace(c.InnerText()); s != "" {
				return s
			}
		}
	}
	return ""
}

// entryLink handles RSS <link>text</link> and Atom <link href rel/>.
func entryLink(n *xmlquery.Node) string {
	var fallback string
	for _, l := range childElements(n, "link") {
		if s := strings.TrimSpace(l.InnerText()); s != "" {
			return s
		}
		href := strings.TrimSpace(l.SelectAttr("href"))
		if href == "" {
			continue
		}
		rel := l.SelectAttr("rel")
		if rel == "" || rel == "alternate" {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

// categories reads RSS <category>text</category> and Atom <category term/>.
func categories(n *xmlquery.Node) []string {
	var out []string
	for _, c := range childElements(n, "category") {
		v := update.CleanText(c.InnerText())
		if v == "" {
			v = update.CleanText(c.SelectAttr("term"))
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
