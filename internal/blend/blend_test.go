package blend

import (
	"fmt"
	"testing"

	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func src(t domain.SourceType, origin, title string, score float64) domain.Source {
	return domain.Source{Type: t, Origin: origin, Title: title, RelevanceScore: score}
}

func TestBlend_WeightedConfidence(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	result := engine.Blend(&domain.ContextResult{
		Internal: []domain.Source{
			src(domain.SourceTypeInternal, "crm", "Q3 pipeline", 0.6),
			src(domain.SourceTypeInternal, "crm", "Deal #123", 0.9),
			src(domain.SourceTypeInternal, "wiki", "Onboarding", 0.3),
		},
	})

	require.Len(t, result.Sources, 3)
	assert.InDelta(t, 0.69, result.ConfidenceScore, 1e-9)
	assert.Equal(t, []float64{0.9, 0.6, 0.3}, scores(result.Sources))
	assert.False(t, result.NoEvidence)

	internal, internet := domain.CountByBucket(result.Sources)
	assert.Equal(t, 3, internal)
	assert.Equal(t, 0, internet)
}

func TestBlend_FewerThanThreeSources(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	t.Run("two sources", func(t *testing.T) {
		result := engine.Blend(&domain.ContextResult{
			Internal: []domain.Source{src(domain.SourceTypeInternal, "crm", "a", 0.8)},
			Internet: []domain.Source{src(domain.SourceTypeInternet, "web", "b", 0.4)},
		})
		assert.InDelta(t, (0.5*0.8+0.3*0.4)/0.8, result.ConfidenceScore, 1e-6)
	})

	t.Run("one source", func(t *testing.T) {
		result := engine.Blend(&domain.ContextResult{
			Internal: []domain.Source{src(domain.SourceTypeInternal, "crm", "a", 0.7)},
		})
		assert.InDelta(t, 0.7, result.ConfidenceScore, 1e-9)
	})
}

func TestBlend_NoEvidence(t *testing.T) {
	result := NewEngine(DefaultConfig()).Blend(&domain.ContextResult{})

	assert.True(t, result.NoEvidence)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.ConfidenceScore)
	assert.Zero(t, result.SynthesisQuality)
}

func TestBlend_DeduplicatesKeepingHigherScore(t *testing.T) {
	result := NewEngine(DefaultConfig()).Blend(&domain.ContextResult{
		Internal: []domain.Source{src(domain.SourceTypeInternal, "crm", "Deal #123", 0.4)},
		Internet: []domain.Source{src(domain.SourceTypeInternet, "crm", "Deal #123", 0.8)},
	})

	require.Len(t, result.Sources, 1)
	assert.Equal(t, 0.8, result.Sources[0].RelevanceScore)
}

func TestBlend_TieBreakByTypePriority(t *testing.T) {
	result := NewEngine(DefaultConfig()).Blend(&domain.ContextResult{
		Internal: []domain.Source{
			src(domain.SourceTypeAPI, "linear", "Roadmap", 0.5),
			src(domain.SourceTypeDatabase, "warehouse", "Revenue table", 0.5),
			src(domain.SourceTypeInternal, "crm", "Account plan", 0.5),
		},
		Internet: []domain.Source{src(domain.SourceTypeInternet, "web", "News", 0.5)},
	})

	types := make([]domain.SourceType, len(result.Sources))
	for i, s := range result.Sources {
		types[i] = s.Type
	}
	assert.Equal(t, []domain.SourceType{
		domain.SourceTypeInternal,
		domain.SourceTypeDatabase,
		domain.SourceTypeAPI,
		domain.SourceTypeInternet,
	}, types)
	assert.Equal(t, 1.0, result.SynthesisQuality)
}

func TestBlend_TruncatesToTopN(t *testing.T) {
	var internal []domain.Source
	for i := 0; i < 25; i++ {
		internal = append(internal, src(domain.SourceTypeInternal, "crm", fmt.Sprintf("doc %02d", i), float64(i)/25))
	}

	result := NewEngine(DefaultConfig()).Blend(&domain.ContextResult{Internal: internal})

	require.Len(t, result.Sources, 10)
	assert.Equal(t, "doc 24", result.Sources[0].Title)
}

func TestBlend_ClampsScores(t *testing.T) {
	result := NewEngine(DefaultConfig()).Blend(&domain.ContextResult{
		Internal: []domain.Source{
			src(domain.SourceTypeInternal, "crm", "too high", 3.2),
			src(domain.SourceTypeInternal, "crm", "negative", -1),
		},
	})

	assert.Equal(t, []float64{1, 0}, scores(result.Sources))
	assert.LessOrEqual(t, result.ConfidenceScore, 1.0)
}

func TestBlend_QualityHeuristic(t *testing.T) {
	result := NewEngine(DefaultConfig()).Blend(&domain.ContextResult{
		Internal: []domain.Source{src(domain.SourceTypeInternal, "crm", "a", 0.5)},
	})
	assert.InDelta(t, 1.0/3+0.4, result.SynthesisQuality, 1e-6)

	result = NewEngine(DefaultConfig()).Blend(&domain.ContextResult{
		Internal: []domain.Source{src(domain.SourceTypeInternal, "crm", "a", 0.5)},
		Internet: []domain.Source{src(domain.SourceTypeInternet, "web", "b", 0.5)},
	})
	assert.InDelta(t, 2.0/3+0.4, result.SynthesisQuality, 1e-6)
}

func TestBlend_Idempotent(t *testing.T) {
	cr := &domain.ContextResult{
		Internal: []domain.Source{
			src(domain.SourceTypeInternal, "crm", "b", 0.5),
			src(domain.SourceTypeDatabase, "dw", "a", 0.5),
			src(domain.SourceTypeInternal, "crm", "a", 0.5),
			src(domain.SourceTypeInternal, "crm", "b", 0.5),
		},
		Internet: []domain.Source{
			src(domain.SourceTypeInternet, "web", "z", 0.9),
			src(domain.SourceTypeInternet, "news", "z", 0.9),
		},
	}
	engine := NewEngine(DefaultConfig())

	first := engine.Blend(cr)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, engine.Blend(cr))
	}
	assert.Len(t, cr.Internal, 4, "input must not be mutated")
}

func TestNewEngine_FillsDefaults(t *testing.T) {
	engine := NewEngine(Config{})
	assert.Equal(t, DefaultConfig(), engine.cfg)
}

func scores(sources []domain.Source) []float64 {
	out := make([]float64, len(sources))
	for i, s := range sources {
		out[i] = s.RelevanceScore
	}
	return out
}
