// Package websearch answers internet research queries through a
// Custom Search style JSON API.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
)

// ErrTimeout is returned when the search API does not answer in time.
// Errors carrying it also match context.DeadlineExceeded.
var ErrTimeout = errors.New("web search timeout")

// Config holds search API settings
type Config struct {
	Name     string        `mapstructure:"name"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	EngineID string        `mapstructure:"engine_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Provider implements broker.Provider over HTTP
type Provider struct {
	cfg    Config
	client *http.Client
}

// NewProvider creates a web search provider
func NewProvider(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "web_search"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.googleapis.com/customsearch/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

func (p *Provider) SourceType() domain.SourceType {
	return domain.SourceTypeInternet
}

func (p *Provider) IsConfigured() bool {
	return p.cfg.APIKey != ""
}

type searchResponse struct {
	Items []struct {
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Mime    string `json:"mime"`
	} `json:"items"`
}

// Search queries the API and ranks results by position
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.searchURL(query, limit), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	seen := make(map[string]bool)
	var sources []domain.Source
	for _, item := range body.Items {
		if item.Mime != "" && !strings.Contains(item.Mime, "html") {
			continue
		}
		if item.Link == "" || seen[item.Link] {
			continue
		}
		seen[item.Link] = true

		sources = append(sources, domain.Source{
			Type:           domain.SourceTypeInternet,
			Origin:         hostOf(item.Link, p.cfg.Name),
			Title:          item.Title,
			URL:            item.Link,
			RelevanceScore: rankScore(len(sources)),
		})
		if len(sources) >= limit {
			break
		}
	}
	return sources, nil
}

func (p *Provider) searchURL(query string, limit int) string {
	base, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return p.cfg.BaseURL
	}
	params := url.Values{}
	params.Set("key", p.cfg.APIKey)
	if p.cfg.EngineID != "" {
		params.Set("cx", p.cfg.EngineID)
	}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit))
	base.RawQuery = params.Encode()
	return base.String()
}

// rankScore decays with result position: 1.0, 0.92, 0.84 ... floored at 0.2
func rankScore(position int) float64 {
	s := 1.0 - 0.08*float64(position)
	if s < 0.2 {
		return 0.2
	}
	return s
}

func hostOf(link, fallback string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return fallback
	}
	return strings.TrimPrefix(u.Host, "www.")
}
