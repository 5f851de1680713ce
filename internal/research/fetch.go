package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"scenesmith/internal/logging"

	"golang.org/x/net/html"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

const fetchBodyLimit = 2 << 20

// FetchText downloads a page and reduces it to readable text. Script, style
// and chrome elements are dropped; headings and code blocks keep light
// markdown markers so the LLM can tell structure apart.
func (c *Client) FetchText(ctx context.Context, pageURL string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 20000
	}

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; scenesmith/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		text = string(body)
	} else {
		text, err = htmlToText(string(body))
		if err != nil {
			return "", fmt.Errorf("extract text from %s: %w", pageURL, err)
		}
	}

	if len(text) > maxLen {
		text = text[:maxLen] + "\n\n[...truncated...]"
	}
	logging.ResearchDebug("fetched %s (%d chars)", pageURL, len(text))
	return text, nil
}

func htmlToText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)

	out := sb.String()
	out = multiSpacePattern.ReplaceAllString(out, " ")
	out = multiNewlinePattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "aside":
			return
		case "h1", "h2", "h3", "h4":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "li", "tr", "br":
			sb.WriteString("\n")
		case "pre":
			sb.WriteString("\n```\n")
			defer sb.WriteString("\n```\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}
