package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davidmey/tern/errors"
	"golang.org/x/net/html"
)

const (
	duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"
	maxSearchResults   = 10
)

// WebSearchTool searches the web via the DuckDuckGo HTML endpoint.
type WebSearchTool struct {
	client *http.Client
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web using DuckDuckGo. Returns titles, URLs, and snippets. Use for finding documentation, packages, error messages, etc."
}

func (t *WebSearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", errors.New("missing or invalid 'query' argument")
	}

	if t.client == nil {
		t.client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		duckDuckGoEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build search request")
	}
	req.Header.Set("User-Agent", "tern/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "search request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse search results")
	}

	results := parseSearchResults(doc)
	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}

	out, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize search results")
	}
	return string(out), nil
}

// parseSearchResults walks the DuckDuckGo HTML result page. Result links
// carry class "result__a", snippets "result__snippet".
func parseSearchResults(doc *html.Node) []searchResult {
	var results []searchResult
	var current *searchResult

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				if current != nil {
					results = append(results, *current)
				}
				current = &searchResult{
					Title: nodeText(n),
					URL:   resolveResultURL(attr(n, "href")),
				}
			case hasClass(n, "result__snippet") && current != nil:
				current.Snippet = nodeText(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if current != nil {
		results = append(results, *current)
	}
	return results
}

// resolveResultURL unwraps DuckDuckGo's redirect links (/l/?uddg=<target>).
func resolveResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
