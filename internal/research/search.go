// Package research looks up external solution context for render errors via
// web search. It is best-effort: every failure degrades to "no context found"
// rather than an error that could stall the fix chain.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"scenesmith/internal/logging"

	"golang.org/x/net/html"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher finds candidate solution pages for an error. Declared here so the
// fix chain can substitute a fake in tests.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Client searches DuckDuckGo's HTML endpoint. No API key required.
type Client struct {
	httpClient       *http.Client
	preferredDomains []string
	endpoint         string
}

// Config controls search behavior.
type Config struct {
	Timeout          time.Duration
	PreferredDomains []string
	Endpoint         string
}

// NewClient builds a search client. Preferred domains are boosted to the top
// of the result list in their given order.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://html.duckduckgo.com/html/"
	}
	return &Client{
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		preferredDomains: cfg.PreferredDomains,
		endpoint:         cfg.Endpoint,
	}
}

// Search runs the query and returns up to maxResults hits, preferred domains
// first.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxResults > 30 {
		maxResults = 30
	}

	logging.ResearchDebug("search: query=%q max=%d", query, maxResults)

	searchURL := c.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	results, err := parseResults(string(body), maxResults*2)
	if err != nil {
		return nil, err
	}
	results = c.rankResults(results)
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	logging.Research("search: %d results for %q", len(results), query)
	return results, nil
}

// rankResults stably boosts preferred domains above everything else, keeping
// the engine's order within each group.
func (c *Client) rankResults(results []Result) []Result {
	if len(c.preferredDomains) == 0 {
		return results
	}
	rank := func(r Result) int {
		u, err := url.Parse(r.URL)
		if err != nil {
			return len(c.preferredDomains)
		}
		host := strings.TrimPrefix(u.Hostname(), "www.")
		for i, d := range c.preferredDomains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return i
			}
		}
		return len(c.preferredDomains)
	}
	sort.SliceStable(results, func(i, j int) bool { return rank(results[i]) < rank(results[j]) })
	return results
}

// parseResults extracts hits from DuckDuckGo's HTML. Result blocks carry
// class="result results_links ...".
func parseResults(htmlContent string, maxResults int) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse search HTML: %w", err)
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "results_links") {
					r := extractResult(n)
					if r.URL != "" && r.Title != "" {
						results = append(results, r)
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
	return results, nil
}

func extractResult(n *html.Node) Result {
	var r Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "class" {
					continue
				}
				if strings.Contains(attr.Val, "result__a") {
					r.URL = attrValue(n, "href")
					r.Title = textContent(n)
				} else if strings.Contains(attr.Val, "result__snippet") {
					r.Snippet = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	// Unwrap DuckDuckGo redirect URLs.
	if strings.HasPrefix(r.URL, "//duckduckgo.com/l/?uddg=") {
		if decoded, err := url.QueryUnescape(strings.TrimPrefix(r.URL, "//duckduckgo.com/l/?uddg=")); err == nil {
			if idx := strings.Index(decoded, "&"); idx > 0 {
				decoded = decoded[:idx]
			}
			r.URL = decoded
		}
	}
	return r
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

var (
	hexAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	pathPattern    = regexp.MustCompile(`(?:/[\w.\-]+)+/`)
)

// BuildQuery turns a raw error message into a focused search query: the last
// meaningful error line, stripped of local paths and addresses, scoped to the
// library the code targets.
func BuildQuery(errorMessage, library string) string {
	line := lastErrorLine(errorMessage)
	line = hexAddrPattern.ReplaceAllString(line, "")
	line = pathPattern.ReplaceAllString(line, "")
	line = strings.Join(strings.Fields(line), " ")
	if len(line) > 200 {
		line = line[:200]
	}
	if library != "" {
		return library + " " + line
	}
	return line
}

// lastErrorLine picks the final line that looks like an actual error, which
// in Python tracebacks is the exception line at the bottom.
func lastErrorLine(msg string) string {
	lines := strings.Split(msg, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		lower := strings.ToLower(l)
		if strings.Contains(lower, "error") || strings.Contains(lower, "exception") ||
			strings.Contains(lower, "warning") || strings.Contains(l, ":") {
			return l
		}
	}
	return strings.TrimSpace(msg)
}
