// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/synth/internal/util"
)

// recencyKeywords trigger the news augmentation.
var recencyKeywords = []string{"latest", "recent", "today", "election", "news", "current", "yesterday", "breaking"}

// WantsNews reports whether query asks about recent events. The current
// and previous calendar year also count.
func WantsNews(query string, now time.Time) bool {
	lower := strings.ToLower(query)
	if containsAny(lower, recencyKeywords) {
		return true
	}
	year := now.Year()
	return strings.Contains(lower, strconv.Itoa(year)) || strings.Contains(lower, strconv.Itoa(year-1))
}

// NewsProvider reads the Google News RSS search feed.
type NewsProvider struct {
	BaseURL   string
	UserAgent string
	client    *http.Client
}

// NewNewsProvider creates a Google News provider.
func NewNewsProvider(userAgent string) *NewsProvider {
	return &NewsProvider{
		BaseURL:   "https://news.google.com/rss/search",
		UserAgent: userAgent,
		client:    newHTTPClient(30 * time.Second),
	}
}

// Name implements Provider.
func (n *NewsProvider) Name() string { return "Google News" }

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Search implements Provider.
func (n *NewsProvider) Search(ctx context.Context, query string, max int) Outcome {
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")

	body, err := fetch(ctx, n.client, n.BaseURL+"?"+params.Encode(), n.UserAgent, "application/rss+xml, application/xml")
	if err != nil {
		return Failed(err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Failed(fmt.Errorf("%w: %v", ErrParse, err))
	}

	var results []Result
	for _, item := range feed.Channel.Items {
		title := cleanHTML(item.Title)
		if title == "" {
			continue
		}
		results = append(results, Result{
			Title:    title,
			URL:      strings.TrimSpace(item.Link),
			Snippet:  util.TruncateRunesNoEllipsis(cleanHTML(item.Description), 300),
			Provider: n.Name(),
		})
		if max > 0 && len(results) >= max {
			break
		}
	}
	return Found(results, "")
}
