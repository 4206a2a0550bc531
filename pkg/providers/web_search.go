package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/swarm/pkg/capability"
)

// WebSearchName is the registered name of the search provider
const WebSearchName = "web_search"

const (
	// DefaultSearchBaseURL is the Exa API endpoint
	DefaultSearchBaseURL = "https://api.exa.ai"
	defaultNumResults    = 5
	maxNumResults        = 25
	maxErrorBody         = 512
)

var searchCategories = []interface{}{"company", "research paper", "news", "github", "tweet", "personal"}

// SearchConfig configures the web search provider
type SearchConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// WebSearch queries an Exa-compatible search API
type WebSearch struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWebSearch creates the search provider
func NewWebSearch(cfg SearchConfig) (*WebSearch, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSearchBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &WebSearch{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
	}, nil
}

// Descriptor implements capability.Provider
func (w *WebSearch) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name: WebSearchName,
		Description: "Perform a broad web search to find information, articles, or relevant URLs. " +
			"Returns highlights. Use this to discover which pages to visit.",
		InputSchema: capability.ObjectSchema(
			capability.Param{Name: "query", Type: "string", Description: "The natural language search query", Required: true},
			capability.Param{Name: "category", Type: "string", Description: "Optional category to filter results", Enum: searchCategories},
			capability.Param{Name: "num_results", Type: "integer", Description: "Number of results to return", Default: defaultNumResults},
		),
	}
}

type searchRequest struct {
	Query      string         `json:"query"`
	Type       string         `json:"type"`
	NumResults int            `json:"numResults"`
	Category   string         `json:"category,omitempty"`
	Contents   searchContents `json:"contents"`
}

type searchContents struct {
	Highlights searchHighlights `json:"highlights"`
}

type searchHighlights struct {
	NumSentences int    `json:"numSentences"`
	Query        string `json:"query"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is one hit returned to the loop
type SearchResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	PublishedDate string   `json:"publishedDate,omitempty"`
	Author        string   `json:"author,omitempty"`
	Highlights    []string `json:"highlights,omitempty"`
}

// Invoke implements capability.Provider
func (w *WebSearch) Invoke(ctx context.Context, args map[string]interface{}, sc capability.SessionContext) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	category, _ := args["category"].(string)

	numResults := defaultNumResults
	if n, ok := args["num_results"].(float64); ok && n > 0 {
		numResults = int(n)
	}
	if numResults > maxNumResults {
		numResults = maxNumResults
	}

	sc.Log(fmt.Sprintf("Searching for: \"%s\"", query))

	results, err := w.search(ctx, searchRequest{
		Query:      query,
		Type:       "auto",
		NumResults: numResults,
		Category:   category,
		Contents: searchContents{
			Highlights: searchHighlights{NumSentences: 6, Query: query},
		},
	})
	if err != nil {
		return "", err
	}

	sc.Log(fmt.Sprintf("Search found %d results.", len(results)))

	out, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (w *WebSearch) search(ctx context.Context, body searchRequest) ([]SearchResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if decoded.Results == nil {
		decoded.Results = []SearchResult{}
	}
	return decoded.Results, nil
}
