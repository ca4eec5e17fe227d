package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/intel-chat/internal/domain"
)

// defaultReaches maps each search context to the provider groups it queries
var defaultReaches = map[domain.SearchContext][]Reach{
	domain.SearchContextInternalOnly:        {ReachInternal},
	domain.SearchContextInternetResearch:    {ReachInternet},
	domain.SearchContextBlendedIntelligence: {ReachInternal, ReachInternet},
	domain.SearchContextCEODeepResearch:     {ReachInternal, ReachInternet, ReachDeepResearch},
}

type registration struct {
	provider Provider
	reach    Reach
	order    int
}

// Router manages context providers and decides which ones a search context uses
type Router struct {
	providers map[string]registration
	routes    map[domain.SearchContext][]string
	mu        sync.RWMutex
}

// NewRouter creates a provider router. routes overrides the reach-based
// selection for the listed search contexts; it may be nil.
func NewRouter(routes map[string][]string) *Router {
	r := &Router{
		providers: make(map[string]registration),
		routes:    make(map[domain.SearchContext][]string),
	}
	for ctxName, names := range routes {
		r.routes[domain.SearchContext(ctxName)] = append([]string(nil), names...)
	}
	return r
}

// RegisterProvider registers a provider under a reach group
func (r *Router) RegisterProvider(provider Provider, reach Reach) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = registration{
		provider: provider,
		reach:    reach,
		order:    len(r.providers),
	}
}

// ProvidersFor returns the configured providers a search context dispatches to,
// in registration order
func (r *Router) ProvidersFor(sc domain.SearchContext) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var regs []registration
	if names, ok := r.routes[sc]; ok {
		for _, name := range names {
			if reg, ok := r.providers[name]; ok {
				regs = append(regs, reg)
			}
		}
	} else {
		reaches := defaultReaches[sc]
		for _, reg := range r.providers {
			for _, reach := range reaches {
				if reg.reach == reach {
					regs = append(regs, reg)
					break
				}
			}
		}
	}

	sort.Slice(regs, func(i, j int) bool { return regs[i].order < regs[j].order })

	providers := make([]Provider, 0, len(regs))
	for _, reg := range regs {
		if reg.provider.IsConfigured() {
			providers = append(providers, reg.provider)
		}
	}
	return providers
}

// GetProvider returns a provider by name
func (r *Router) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	if !reg.provider.IsConfigured() {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}
	return reg.provider, nil
}

// ProviderInfo contains information about a context provider
type ProviderInfo struct {
	Name       string            `json:"name"`
	Reach      Reach             `json:"reach"`
	SourceType domain.SourceType `json:"source_type"`
	Configured bool              `json:"configured"`
}

// GetProvidersInfo returns information about all registered providers
func (r *Router) GetProvidersInfo() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.providers))
	for name, reg := range r.providers {
		infos = append(infos, ProviderInfo{
			Name:       name,
			Reach:      reg.reach,
			SourceType: reg.provider.SourceType(),
			Configured: reg.provider.IsConfigured(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
