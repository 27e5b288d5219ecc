// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// GoogleProvider scrapes Google's HTML results page. It also extracts the
// answer box when one is present.
type GoogleProvider struct {
	BaseURL   string
	UserAgent string
	client    *http.Client
}

// NewGoogleProvider creates a Google scraper.
func NewGoogleProvider(userAgent string) *GoogleProvider {
	return &GoogleProvider{
		BaseURL:   "https://www.google.com/search",
		UserAgent: userAgent,
		client:    newHTTPClient(30 * time.Second),
	}
}

// Name implements Provider.
func (g *GoogleProvider) Name() string { return "Google" }

// Search implements Provider.
func (g *GoogleProvider) Search(ctx context.Context, query string, max int) Outcome {
	u := g.BaseURL + "?q=" + url.QueryEscape(query) + "&num=" + strconv.Itoa(max) + "&hl=en"
	body, err := fetch(ctx, g.client, u, g.UserAgent, "text/html,application/xhtml+xml")
	if err != nil {
		return Failed(err)
	}
	results, direct, err := parseGoogle(body)
	if err != nil {
		return Failed(fmt.Errorf("%w: %v", ErrParse, err))
	}
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	for i := range results {
		results[i].Provider = g.Name()
	}
	return Found(results, direct)
}

var (
	// snippetClasses mark organic snippets in the JS and basic layouts.
	snippetClasses = []string{"VwiC3b", "s3v9rd"}
	// answerClasses mark featured snippets, direct answers and knowledge panels.
	answerClasses = []string{"hgKElc", "Z0LcW", "IZ6rdc", "kno-rdesc"}
)

// parseGoogle extracts organic results and the answer box from a results page.
func parseGoogle(body []byte) ([]Result, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}

	var (
		results []Result
		direct  string
		seen    = make(map[string]bool)
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case direct == "" && hasAnyClass(n, answerClasses):
				direct = nodeText(n)
				return
			case hasAnyClass(n, snippetClasses):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = nodeText(n)
				}
				return
			case n.DataAtom == atom.A:
				if h3 := findFirst(n, atom.H3); h3 != nil {
					link := resolveGoogleHref(attr(n, "href"))
					title := nodeText(h3)
					if link != "" && title != "" && !seen[link] {
						seen[link] = true
						results = append(results, Result{Title: title, URL: link})
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, direct, nil
}

// resolveGoogleHref unwraps "/url?q=" redirects and drops Google's own links.
func resolveGoogleHref(href string) string {
	if strings.HasPrefix(href, "/url?") {
		parsed, err := url.Parse(href)
		if err != nil {
			return ""
		}
		href = parsed.Query().Get("q")
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "google.com" || strings.HasSuffix(host, ".google.com") {
		return ""
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAnyClass(n *html.Node, classes []string) bool {
	cls := attr(n, "class")
	if cls == "" {
		return false
	}
	for _, field := range strings.Fields(cls) {
		for _, want := range classes {
			if field == want {
				return true
			}
		}
	}
	return false
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// nodeText returns the visible text below n, whitespace-collapsed.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return cleanHTML(b.String())
}
