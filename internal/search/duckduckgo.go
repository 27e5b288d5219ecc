// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/synth/internal/util"
)

// =============================================================================
// PERFORMANCE: Pre-compiled regex (compiled once at startup)
// =============================================================================

var (
	ddgTitleRegex   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)
)

// =============================================================================
// DUCKDUCKGO PROVIDER
// =============================================================================

// DuckDuckGoProvider scrapes DuckDuckGo's HTML endpoint and falls back to
// the Instant Answer API when the page yields nothing.
type DuckDuckGoProvider struct {
	// HTMLURL is the HTML search endpoint.
	HTMLURL string

	// APIURL is the Instant Answer endpoint.
	APIURL string

	// UserAgent is the User-Agent header to send.
	UserAgent string

	client *http.Client
}

// NewDuckDuckGoProvider creates a DuckDuckGo provider.
func NewDuckDuckGoProvider(userAgent string) *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		HTMLURL:   "https://html.duckduckgo.com/html/",
		APIURL:    "https://api.duckduckgo.com/",
		UserAgent: userAgent,
		client:    newHTTPClient(30 * time.Second),
	}
}

// Name implements Provider.
func (d *DuckDuckGoProvider) Name() string { return "DuckDuckGo" }

// Search implements Provider.
func (d *DuckDuckGoProvider) Search(ctx context.Context, query string, max int) Outcome {
	results, htmlErr := d.searchHTML(ctx, query)
	if len(results) == 0 {
		var apiErr error
		results, apiErr = d.searchAPI(ctx, query, max)
		if len(results) == 0 {
			switch {
			case htmlErr != nil && apiErr != nil:
				return Failed(fmt.Errorf("html: %v; api: %w", htmlErr, apiErr))
			case htmlErr != nil:
				return Failed(fmt.Errorf("html: %w", htmlErr))
			case apiErr != nil:
				return Failed(apiErr)
			}
			return Empty()
		}
	}

	if max > 0 && len(results) > max {
		results = results[:max]
	}
	for i := range results {
		results[i].Provider = d.Name()
	}
	return Found(results, "")
}

// searchHTML performs the HTML scrape.
func (d *DuckDuckGoProvider) searchHTML(ctx context.Context, query string) ([]Result, error) {
	body, err := fetch(ctx, d.client, d.HTMLURL+"?q="+url.QueryEscape(query), d.UserAgent,
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoHTML(string(body)), nil
}

// parseDuckDuckGoHTML extracts results from DuckDuckGo HTML.
func parseDuckDuckGoHTML(page string) []Result {
	var results []Result

	// DuckDuckGo HTML structure (2024+):
	// <div class="result results_links results_links_deep web-result ">
	//   <h2 class="result__title">
	//     <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
	//   </h2>
	//   <a class="result__snippet" href="...">Snippet text</a>
	// </div>
	titleMatches := ddgTitleRegex.FindAllStringSubmatch(page, 30)
	snippetMatches := ddgSnippetRegex.FindAllStringSubmatch(page, 30)

	for i, match := range titleMatches {
		if len(match) < 3 {
			continue
		}

		// DuckDuckGo uses &amp; for & in HTML - decode it for URL parsing
		rawURL := strings.ReplaceAll(match[1], "&amp;", "&")
		actualURL := extractActualURL(rawURL)
		title := cleanHTML(match[2])
		if title == "" || actualURL == "" {
			continue
		}

		snippet := ""
		if i < len(snippetMatches) && len(snippetMatches[i]) >= 2 {
			snippet = cleanHTML(snippetMatches[i][1])
		}

		results = append(results, Result{
			Title:   title,
			URL:     actualURL,
			Snippet: snippet,
		})

		if len(results) >= 20 {
			break
		}
	}

	return results
}

// extractActualURL extracts the real URL from DuckDuckGo's redirect wrapper.
func extractActualURL(ddgURL string) string {
	// Format: //duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com
	if strings.Contains(ddgURL, "uddg=") {
		if strings.HasPrefix(ddgURL, "//") {
			ddgURL = "https:" + ddgURL
		}
		parsed, err := url.Parse(ddgURL)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}

	if strings.HasPrefix(ddgURL, "http://") || strings.HasPrefix(ddgURL, "https://") {
		return ddgURL
	}

	return ""
}

// =============================================================================
// INSTANT ANSWER API
// =============================================================================

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgAnswer struct {
	Heading       string     `json:"Heading"`
	Abstract      string     `json:"Abstract"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// searchAPI queries the Instant Answer API.
func (d *DuckDuckGoProvider) searchAPI(ctx context.Context, query string, max int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	body, err := fetch(ctx, d.client, d.APIURL+"?"+params.Encode(), d.UserAgent, "application/json")
	if err != nil {
		return nil, err
	}
	var data ddgAnswer
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return data.results(query, max), nil
}

func (a ddgAnswer) results(query string, max int) []Result {
	var out []Result
	full := func() bool { return max > 0 && len(out) >= max }

	abstract := a.Abstract
	if abstract == "" {
		abstract = a.AbstractText
	}
	if abstract != "" {
		title := a.Heading
		if title == "" {
			title = query
		}
		out = append(out, Result{Title: title, URL: a.AbstractURL, Snippet: util.NormalizeText(abstract)})
	}
	if a.Answer != "" && !full() {
		out = append(out, Result{Title: query, Snippet: util.NormalizeText(a.Answer)})
	}

	add := func(t ddgTopic) {
		if t.Text == "" || t.FirstURL == "" || full() {
			return
		}
		out = append(out, Result{
			Title:   util.TruncateRunesNoEllipsis(t.Text, 100),
			URL:     t.FirstURL,
			Snippet: util.NormalizeText(t.Text),
		})
	}
	for _, t := range a.RelatedTopics {
		if len(t.Topics) > 0 {
			for _, sub := range t.Topics {
				add(sub)
			}
			continue
		}
		add(t)
	}
	return out
}
