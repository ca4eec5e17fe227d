// Package gemini runs slow deep-research queries against Google Gemini.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Config holds Gemini credentials
type Config struct {
	Name   string `mapstructure:"name"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type Provider struct {
	name   string
	apiKey string
	model  string
}

func NewProvider(cfg Config) *Provider {
	name := cfg.Name
	if name == "" {
		name = "gemini_research"
	}
	return &Provider{
		name:   name,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) SourceType() domain.SourceType {
	return domain.SourceTypeInternet
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.DefaultModel())
	var temperature float32 = 0.2
	model.Temperature = &temperature
	model.ResponseMIMEType = "application/json"

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(BuildPrompt(query, limit)))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var output string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			output += string(text)
		}
	}

	findings, err := ParseFindings(output)
	if err != nil {
		return nil, err
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	log.Debug().
		Str("model", p.DefaultModel()).
		Int("findings", len(findings)).
		Int("tokens", tokens).
		Dur("latency", time.Since(start)).
		Msg("deep research completed")

	return p.toSources(findings, limit), nil
}

func (p *Provider) toSources(findings []Finding, limit int) []domain.Source {
	if len(findings) > limit {
		findings = findings[:limit]
	}
	sources := make([]domain.Source, 0, len(findings))
	for _, f := range findings {
		sources = append(sources, domain.Source{
			Type:           domain.SourceTypeInternet,
			Origin:         p.name,
			Title:          f.Title,
			URL:            f.URL,
			RelevanceScore: f.Relevance,
		})
	}
	return sources
}
