// Package elastic answers internal knowledge queries from an Elasticsearch index.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Config holds knowledge base settings
type Config struct {
	Name       string   `mapstructure:"name"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Index      string   `mapstructure:"index"`
	Fields     []string `mapstructure:"fields"`
	TitleField string   `mapstructure:"title_field"`
	URLField   string   `mapstructure:"url_field"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "knowledge_base"
	}
	if len(c.Fields) == 0 {
		c.Fields = []string{"title^2", "content"}
	}
	if c.TitleField == "" {
		c.TitleField = "title"
	}
	if c.URLField == "" {
		c.URLField = "url"
	}
	return c
}

// Provider implements broker.Provider over an Elasticsearch index
type Provider struct {
	client *elasticsearch.Client
	cfg    Config
}

// NewProvider creates a client for the configured cluster. It does not dial.
func NewProvider(cfg Config) (*Provider, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *elasticsearch.Client, cfg Config) *Provider {
	return &Provider{client: client, cfg: cfg.withDefaults()}
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

func (p *Provider) SourceType() domain.SourceType {
	return domain.SourceTypeInternal
}

func (p *Provider) IsConfigured() bool {
	return p.client != nil && p.cfg.Index != "" && len(p.cfg.Addresses) > 0
}

// Ping checks the cluster is reachable
func (p *Provider) Ping(ctx context.Context) error {
	res, err := p.client.Ping(p.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		MaxScore *float64 `json:"max_score"`
		Hits     []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a multi_match query and scales hit scores by the best hit
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	req, err := p.buildRequest(query, limit)
	if err != nil {
		return nil, err
	}

	res, err := req.Do(ctx, p.client)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", p.cfg.Index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search query failed: %s", res.String())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	maxScore := 0.0
	if r.Hits.MaxScore != nil {
		maxScore = *r.Hits.MaxScore
	}

	sources := make([]domain.Source, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		title, _ := hit.Source[p.cfg.TitleField].(string)
		if title == "" {
			title = hit.ID
		}
		url, _ := hit.Source[p.cfg.URLField].(string)

		score := 1.0
		if maxScore > 0 {
			score = hit.Score / maxScore
		}
		sources = append(sources, domain.Source{
			Type:           domain.SourceTypeInternal,
			Origin:         p.cfg.Name,
			Title:          title,
			URL:            url,
			RelevanceScore: clamp(score),
		})
	}
	return sources, nil
}

func (p *Provider) buildRequest(query string, limit int) (*esapi.SearchRequest, error) {
	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": p.cfg.Fields,
				"type":   "best_fields",
			},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	return &esapi.SearchRequest{
		Index: []string{p.cfg.Index},
		Body:  strings.NewReader(string(data)),
		Size:  &limit,
	}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
