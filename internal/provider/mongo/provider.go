// Package mongo answers queries with a MongoDB text index search.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/intel-chat/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds the collection to search. The collection needs a text index.
type Config struct {
	Name           string        `mapstructure:"name"`
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	TitleField     string        `mapstructure:"title_field"`
	URLField       string        `mapstructure:"url_field"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "documents"
	}
	if c.TitleField == "" {
		c.TitleField = "title"
	}
	if c.URLField == "" {
		c.URLField = "url"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Provider implements broker.Provider over a MongoDB collection
type Provider struct {
	client *mongo.Client
	coll   *mongo.Collection
	cfg    Config
}

// Connect dials the cluster and verifies it with a ping
func Connect(ctx context.Context, cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()

	clientOpts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	p := NewWithCollection(client.Database(cfg.Database).Collection(cfg.Collection), cfg)
	p.client = client
	return p, nil
}

// NewWithCollection wraps an existing collection handle
func NewWithCollection(coll *mongo.Collection, cfg Config) *Provider {
	return &Provider{coll: coll, cfg: cfg.withDefaults()}
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

func (p *Provider) SourceType() domain.SourceType {
	return domain.SourceTypeInternal
}

func (p *Provider) IsConfigured() bool {
	return p.coll != nil
}

// Close disconnects the client when the provider owns it
func (p *Provider) Close(ctx context.Context) error {
	if p.client != nil {
		return p.client.Disconnect(ctx)
	}
	return nil
}

// Search runs a $text query sorted by text score
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	filter := bson.M{"$text": bson.M{"$search": query}}
	score := bson.M{"score": bson.M{"$meta": "textScore"}}
	opts := options.Find().
		SetProjection(score).
		SetSort(score).
		SetLimit(int64(limit))

	cursor, err := p.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", p.cfg.Collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return p.toSources(docs), nil
}

// toSources scales text scores by the best document
func (p *Provider) toSources(docs []bson.M) []domain.Source {
	maxScore := 0.0
	for _, d := range docs {
		if s := number(d["score"]); s > maxScore {
			maxScore = s
		}
	}

	sources := make([]domain.Source, 0, len(docs))
	for _, d := range docs {
		title, _ := d[p.cfg.TitleField].(string)
		if title == "" {
			title = fmt.Sprint(d["_id"])
		}
		url, _ := d[p.cfg.URLField].(string)

		relevance := 1.0
		if maxScore > 0 {
			relevance = number(d["score"]) / maxScore
		}
		sources = append(sources, domain.Source{
			Type:           domain.SourceTypeInternal,
			Origin:         p.cfg.Name,
			Title:          title,
			URL:            url,
			RelevanceScore: relevance,
		})
	}
	return sources
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
