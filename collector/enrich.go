package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Enricher fetches a vulnerability's detail page and extracts the
// "Additional Resources" links. It never returns an error: every failure
// degrades to an empty reference list so the owning record is still kept.
type Enricher struct {
	baseURL string
	client  *http.Client
	stats   *Stats
}

func NewEnricher(baseURL string, stats *Stats) *Enricher {
	return &Enricher{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
		stats: stats,
	}
}

// Enrich fetches the detail document for id and returns its categorized
// external references. Failures yield an empty list and a warning.
func (e *Enricher) Enrich(ctx context.Context, id string) []Reference {
	refs, err := e.fetchReferences(ctx, id)
	if err != nil {
		if e.stats != nil {
			e.stats.EnrichErrors.Add(1)
		}
		slog.Warn("enrichment failed", "id", id, "err", err)
		return nil
	}
	return refs
}

func (e *Enricher) fetchReferences(ctx context.Context, id string) ([]Reference, error) {
	detailURL := e.baseURL + "/vuln/" + url.PathEscape(strings.ToLower(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, detailURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "cves-collector/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch detail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, detailURL)
	}

	body := io.LimitReader(resp.Body, maxResponseBytes)
	return ExtractReferences(body)
}

// ExtractReferences locates the "Additional Resources" section of a detail
// document and pulls out its links. The section is found by heading text,
// not by a stable API, so upstream markup changes can silence it; that
// degrades to an empty list rather than an error elsewhere.
func ExtractReferences(r io.Reader) ([]Reference, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	var section *goquery.Selection
	doc.Find("h2, h3").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(h.Text()), "additional resources") {
			section = h.NextAllFiltered("ul, ol").First()
			return false
		}
		return true
	})
	if section == nil || section.Length() == 0 {
		return nil, nil
	}

	var refs []Reference
	section.Find("li a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		title := strings.Join(strings.Fields(a.Text()), " ")

		u, err := url.Parse(href)
		if err != nil || !u.IsAbs() {
			return
		}

		refs = append(refs, Reference{
			Title:    title,
			URL:      href,
			Category: CategorizeReference(title, href),
		})
	})

	return refs, nil
}

// categoryRule maps a lowercase substring of the URL or title to a category.
// Order matters: the first match wins.
type categoryRule struct {
	needle   string
	inTitle  bool
	category string
}

var categoryRules = []categoryRule{
	{needle: "nvd.nist.gov", category: "NVD"},
	{needle: "cve.mitre.org", category: "MITRE"},
	{needle: "cve.org", category: "MITRE"},
	{needle: "exploit-db.com", category: "Exploit-DB"},
	{needle: "github.com", category: "GitHub"},
	{needle: "gitlab.com", category: "GitLab"},
	{needle: "patch", inTitle: true, category: "Patch"},
	{needle: "fix", inTitle: true, category: "Patch"},
	{needle: "proof of concept", inTitle: true, category: "Proof of Concept"},
	{needle: "poc", inTitle: true, category: "Proof of Concept"},
}

// CategorizeReference assigns a category by matching the link's URL and
// title against the fixed rule list; unmatched links fall through to Other.
func CategorizeReference(title, href string) string {
	lowTitle := strings.ToLower(title)
	lowHref := strings.ToLower(href)
	for _, rule := range categoryRules {
		if rule.inTitle {
			if strings.Contains(lowTitle, rule.needle) {
				return rule.category
			}
			continue
		}
		if strings.Contains(lowHref, rule.needle) {
			return rule.category
		}
	}
	return "Other"
}
