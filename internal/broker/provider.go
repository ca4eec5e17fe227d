package broker

import (
	"context"

	"github.com/Rrens/intel-chat/internal/domain"
)

// Reach groups providers by what kind of knowledge they answer
type Reach string

const (
	// ReachInternal covers company data: knowledge bases, warehouses, SaaS APIs
	ReachInternal Reach = "internal"
	// ReachInternet covers public web research
	ReachInternet Reach = "internet"
	// ReachDeepResearch covers slow, expensive research reserved for deep searches
	ReachDeepResearch Reach = "deep_research"
)

// Provider answers "what do we know" for a query. Implementations are black
// boxes to the broker; they should respect ctx cancellation but are not required to.
type Provider interface {
	// Name returns the provider identifier, used as the default source origin
	Name() string

	// SourceType returns the type stamped on sources that do not set one
	SourceType() domain.SourceType

	// IsConfigured checks the provider has what it needs to run
	IsConfigured() bool

	// Search returns up to limit sources relevant to query
	Search(ctx context.Context, query string, limit int) ([]domain.Source, error)
}

// ProviderFunc adapts a plain function into a Provider
type ProviderFunc struct {
	ProviderName string
	Type         domain.SourceType
	Fn           func(ctx context.Context, query string, limit int) ([]domain.Source, error)
}

func (f ProviderFunc) Name() string                  { return f.ProviderName }
func (f ProviderFunc) SourceType() domain.SourceType { return f.Type }
func (f ProviderFunc) IsConfigured() bool            { return f.Fn != nil }

func (f ProviderFunc) Search(ctx context.Context, query string, limit int) ([]domain.Source, error) {
	return f.Fn(ctx, query, limit)
}
