package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/agentpilot/agentpilot/internal/provider"
)

const (
	defaultSearchURL  = "https://html.duckduckgo.com/html/"
	defaultUserAgent  = "Mozilla/5.0 (compatible; AgentPilot/1.0)"
	maxPageBytes      = 2 << 20
	maxPageChars      = 8000
	maxSearchResults  = 8
	defaultWebTimeout = 20 * time.Second
)

// BrowserWorker fetches pages and runs web searches. It never mutates
// anything, so it sits at the ReadOnly level.
type BrowserWorker struct {
	SearchURL string
	UserAgent string
	client    *http.Client
}

// NewBrowserWorker creates a browser worker. Empty values fall back to
// DuckDuckGo's HTML endpoint and a 20s timeout.
func NewBrowserWorker(searchURL, userAgent string, timeout time.Duration) *BrowserWorker {
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = defaultWebTimeout
	}
	return &BrowserWorker{
		SearchURL: searchURL,
		UserAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

func (w *BrowserWorker) Domain() string { return "browser" }

func (w *BrowserWorker) Tools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		provider.NewToolDefinition("browse_web", "Navigate to a URL and extract page content",
			objectSchema(map[string]any{
				"url":     stringProp("URL to navigate to"),
				"extract": stringProp("What to extract from the page"),
			}, "url")),
		provider.NewToolDefinition("web_search", "Search the web for information",
			objectSchema(map[string]any{"query": stringProp("Search query")}, "query")),
	}
}

func (w *BrowserWorker) Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	switch req.Operation {
	case "browse_web":
		return w.browse(ctx, req.Params), nil
	case "web_search":
		return w.search(ctx, req.Params), nil
	}
	return UnknownOperation(req.Operation), nil
}

func (w *BrowserWorker) fetch(ctx context.Context, target string) (*html.Node, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", w.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return html.Parse(io.LimitReader(resp.Body, maxPageBytes))
}

func (w *BrowserWorker) browse(ctx context.Context, params map[string]any) *ActionResult {
	target := strings.TrimSpace(GetString(params, "url", ""))
	if target == "" {
		return Fail("Missing url")
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Fail("Invalid URL: %s", target)
	}
	doc, err := w.fetch(ctx, target)
	if err != nil {
		return Fail("Failed to fetch %s: %v", target, err)
	}

	content := collapseSpace(textContent(doc))
	truncated := len(content) > maxPageChars
	if truncated {
		content = content[:maxPageChars]
	}
	data := map[string]any{
		"url":       target,
		"title":     collapseSpace(textContent(findFirst(doc, atom.Title))),
		"content":   content,
		"truncated": truncated,
	}
	if extract := GetString(params, "extract", ""); extract != "" {
		data["extract"] = extract
	}
	return OK(data)
}

// SearchResult is one web_search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (w *BrowserWorker) search(ctx context.Context, params map[string]any) *ActionResult {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return Fail("Missing search query")
	}
	u, err := url.Parse(w.SearchURL)
	if err != nil {
		return Fail("Invalid search URL: %v", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	doc, err := w.fetch(ctx, u.String())
	if err != nil {
		return Fail("Search failed: %v", err)
	}
	results := parseSearchResults(doc)
	return OK(map[string]any{"query": query, "results": results, "count": len(results)})
}

// parseSearchResults reads DuckDuckGo's HTML result page: a.result__a
// links, each followed by a .result__snippet element.
func parseSearchResults(doc *html.Node) []SearchResult {
	results := []SearchResult{}
	walk(doc, func(n *html.Node) bool {
		if len(results) >= maxSearchResults {
			return false
		}
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case n.DataAtom == atom.A && hasClass(n, "result__a"):
			results = append(results, SearchResult{
				Title: collapseSpace(textContent(n)),
				URL:   unwrapRedirect(attr(n, "href")),
			})
			return false
		case hasClass(n, "result__snippet") && len(results) > 0:
			last := &results[len(results)-1]
			if last.Snippet == "" {
				last.Snippet = collapseSpace(textContent(n))
			}
			return false
		}
		return true
	})
	return results
}

// unwrapRedirect extracts the target from DuckDuckGo /l/?uddg= links.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

// walk visits nodes depth first. Returning false skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func textContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head:
				return c == n
			}
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return b.String()
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
