package tools

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultSearchURL is the DuckDuckGo HTML endpoint queried by web_search.
	DefaultSearchURL = "https://html.duckduckgo.com/html/"

	defaultMaxResults = 10
	resultSeparator   = "\n=====\n"
)

var (
	spacesRe   = regexp.MustCompile(`[ \t]+`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title       string
	URL         string
	Description string
}

func (r SearchResult) String() string {
	return fmt.Sprintf("Title: %s\nURL: %s\nDescription: %s\n", r.Title, r.URL, r.Description)
}

// WebTools implements the web_search and visit_website tools.
type WebTools struct {
	fetcher   *Fetcher
	searchURL string
	logger    zerolog.Logger
}

// NewWebTools creates the web tools. An empty searchURL selects DefaultSearchURL.
func NewWebTools(fetcher *Fetcher, searchURL string, logger zerolog.Logger) *WebTools {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	return &WebTools{
		fetcher:   fetcher,
		searchURL: searchURL,
		logger:    logger.With().Str("component", "web_tools").Logger(),
	}
}

// Register adds web_search and visit_website to r.
func (w *WebTools) Register(r *Registry) {
	r.RegisterTool(Tool{
		Name: "web_search",
		Description: "Search the web for the provided query, and returns the title, URL and description of the results. " +
			"Search results are separated by: =====",
		Params: []Param{
			StringParam("query", "The query to search on the web", true),
			{
				Name: "max_results",
				Schema: map[string]any{
					"type":        "number",
					"description": "Maximal number of results to retrieve. Must be between 1 and 10, default is 10.",
				},
			},
		},
		Handler: w.handleSearch,
		Display: func(args map[string]any) string {
			return fmt.Sprintf("Searching the web: %s", stringArg(args, "query"))
		},
	})

	r.RegisterTool(Tool{
		Name:        "visit_website",
		Description: "Goes to the provided URL and returns a simple version of the page text. Images and styling are excluded.",
		Params:      []Param{StringParam("url", "The URL of the page to scrape", true)},
		Handler:     w.handleVisit,
		Display: func(args map[string]any) string {
			host := stringArg(args, "url")
			if u, err := url.Parse(host); err == nil {
				host = u.Host
			}
			return fmt.Sprintf("Visiting website: %s", host)
		},
	})
}

// handleSearch never fails: errors are reported in the result text so the
// model can react to them.
func (w *WebTools) handleSearch(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	maxResults := clampResults(args["max_results"])

	w.logger.Debug().Str("query", query).Int("maxResults", maxResults).Msg("Searching the web with DuckDuckGo")
	results, err := w.Search(ctx, query, maxResults)
	if err != nil {
		w.logger.Error().Err(err).Str("query", query).Msg("Web search failed")
		return fmt.Sprintf("Error while searching the web: %v", err), nil
	}
	if len(results) == 0 {
		return "No results", nil
	}
	return strings.Join(lo.Map(results, func(r SearchResult, _ int) string {
		return r.String()
	}), resultSeparator), nil
}

// Search queries DuckDuckGo and returns at most maxResults hits.
func (w *WebTools) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	u, err := url.Parse(w.searchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	body, err := w.fetcher.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	results := parseSearchResults(doc)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func (w *WebTools) handleVisit(ctx context.Context, args map[string]any) (string, error) {
	target := stringArg(args, "url")
	if target == "" {
		return "", fmt.Errorf("url is required")
	}
	body, err := w.fetcher.Get(ctx, target)
	if err != nil {
		return "", err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	return CleanText(ExtractText(doc)), nil
}

// parseSearchResults walks DuckDuckGo's HTML result page. Each hit is a
// "result" block holding a result__a title link and a result__snippet.
func parseSearchResults(doc *html.Node) []SearchResult {
	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "result__body") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func parseResult(n *html.Node) (SearchResult, bool) {
	var r SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				r.Title = strings.TrimSpace(ExtractText(n))
				r.URL = resolveResultURL(attr(n, "href"))
				return
			case hasClass(n, "result__snippet"):
				r.Description = strings.TrimSpace(ExtractText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r, r.URL != ""
}

// resolveResultURL unwraps DuckDuckGo's redirect links (/l/?uddg=<target>).
func resolveResultURL(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// ExtractText returns the visible text under n. Script and style contents
// are skipped and block elements end with a newline.
func ExtractText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			sb.WriteString("\n")
		}
	}
	walk(n)
	return sb.String()
}

// CleanText collapses runs of spaces and tabs, limits blank lines to one and
// trims the result.
func CleanText(text string) string {
	text = spacesRe.ReplaceAllString(text, " ")
	text = newlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Section, atom.Article,
		atom.Header, atom.Footer, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Pre, atom.Blockquote, atom.Title:
		return true
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	return lo.Contains(strings.Fields(attr(n, "class")), class)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// clampResults reads max_results, which models send as a number or a
// string, and clamps it to 1..10.
func clampResults(v any) int {
	n := defaultMaxResults
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			n = parsed
		}
	}
	return lo.Clamp(n, 1, defaultMaxResults)
}
