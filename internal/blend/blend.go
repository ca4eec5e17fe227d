// Package blend merges provider results into one ranked, deduplicated source list.
package blend

import (
	"math"
	"sort"

	"github.com/Rrens/intel-chat/internal/domain"
)

// Config tunes ranking and scoring. QualityBase and QualityDivisor drive a
// source-diversity heuristic, not a calibrated measure.
type Config struct {
	TopN           int       `mapstructure:"top_n"`
	Weights        []float64 `mapstructure:"weights"`
	QualityBase    float64   `mapstructure:"quality_base"`
	QualityDivisor float64   `mapstructure:"quality_divisor"`
}

// DefaultConfig returns the standard ranking configuration
func DefaultConfig() Config {
	return Config{
		TopN:           10,
		Weights:        []float64{0.5, 0.3, 0.2},
		QualityBase:    0.4,
		QualityDivisor: 3,
	}
}

// Result is the blended evidence set
type Result struct {
	Sources          []domain.Source
	ConfidenceScore  float64
	SynthesisQuality float64
	// NoEvidence marks that neither internal nor internet providers returned anything
	NoEvidence bool
}

// Engine blends context results. It holds no per-session state.
type Engine struct {
	cfg Config
}

// NewEngine creates a blending engine, filling unset fields from DefaultConfig
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = def.Weights
	}
	if cfg.QualityDivisor <= 0 {
		cfg.QualityDivisor = def.QualityDivisor
		cfg.QualityBase = def.QualityBase
	}
	if cfg.QualityBase < 0 {
		cfg.QualityBase = 0
	}
	return &Engine{cfg: cfg}
}

type sourceKey struct {
	origin string
	title  string
}

// Blend merges, deduplicates, ranks and scores the sources in cr.
// It never mutates cr and always returns the same output for the same input.
func (e *Engine) Blend(cr *domain.ContextResult) Result {
	if cr == nil {
		cr = &domain.ContextResult{}
	}
	if len(cr.Internal) == 0 && len(cr.Internet) == 0 {
		return Result{Sources: []domain.Source{}, NoEvidence: true}
	}

	merged := make(map[sourceKey]domain.Source, len(cr.Internal)+len(cr.Internet))
	for _, list := range [][]domain.Source{cr.Internal, cr.Internet} {
		for _, s := range list {
			s.RelevanceScore = clamp(s.RelevanceScore)
			key := sourceKey{origin: s.Origin, title: s.Title}
			existing, ok := merged[key]
			if !ok || outranks(s, existing) {
				merged[key] = s
			}
		}
	}

	sources := make([]domain.Source, 0, len(merged))
	for _, s := range merged {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool {
		return less(sources[i], sources[j])
	})

	if len(sources) > e.cfg.TopN {
		sources = sources[:e.cfg.TopN]
	}

	return Result{
		Sources:          sources,
		ConfidenceScore:  e.confidence(sources),
		SynthesisQuality: e.quality(sources),
	}
}

// outranks reports whether a should replace b on a (origin, title) collision
func outranks(a, b domain.Source) bool {
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore > b.RelevanceScore
	}
	if a.Type.Priority() != b.Type.Priority() {
		return a.Type.Priority() > b.Type.Priority()
	}
	return a.URL < b.URL
}

func less(a, b domain.Source) bool {
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore > b.RelevanceScore
	}
	if a.Type.Priority() != b.Type.Priority() {
		return a.Type.Priority() > b.Type.Priority()
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	return a.Title < b.Title
}

// confidence is the weighted mean of the top scores, normalized over the weights in use
func (e *Engine) confidence(sources []domain.Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum, weightSum float64
	for i, w := range e.cfg.Weights {
		if i >= len(sources) {
			break
		}
		sum += w * sources[i].RelevanceScore
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return round(clamp(sum / weightSum))
}

func (e *Engine) quality(sources []domain.Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	types := make(map[domain.SourceType]struct{})
	for _, s := range sources {
		types[s.Type] = struct{}{}
	}
	return round(math.Min(1, float64(len(types))/e.cfg.QualityDivisor+e.cfg.QualityBase))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round trims float noise so scores compare cleanly after serialization
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
