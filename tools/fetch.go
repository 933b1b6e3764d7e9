package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/davidmey/tern/errors"
	"golang.org/x/net/html"
)

// maxFetchedChars caps extracted page text fed back to the model.
const maxFetchedChars = 5000

// FetchWebTool fetches a webpage and extracts its readable text.
type FetchWebTool struct {
	client *http.Client
}

func (t *FetchWebTool) Name() string { return "fetch_webpage" }
func (t *FetchWebTool) Description() string {
	return "Fetch and extract text content from a URL. Use to read documentation, README files, or error descriptions."
}

func (t *FetchWebTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchWebTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return "", errors.New("missing or invalid 'url' argument")
	}

	if t.client == nil {
		t.client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build fetch request")
	}
	req.Header.Set("User-Agent", "tern/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch '%s'", rawURL)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse page at '%s'", rawURL)
	}

	text := extractText(doc)
	if len(text) > maxFetchedChars {
		text = text[:maxFetchedChars]
	}

	out, err := json.Marshal(map[string]any{"content": text})
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize page content")
	}
	return string(out), nil
}

// extractText renders the visible text of a page: script and style subtrees
// are dropped and whitespace runs collapse to single newlines.
func extractText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}
