// Package composer turns blended evidence into the assistant message a client renders.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/intel-chat/internal/blend"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/google/uuid"
)

const (
	// DowngradeDisclosure is prepended when the requested scope was not permitted
	DowngradeDisclosure = "Note: your access level does not include the requested search scope or style, so your default settings were used."

	// NoEvidenceDisclosure replaces the answer body when no source backs it
	NoEvidenceDisclosure = "I could not find any supporting evidence for this question in the sources available to you, so my confidence is low and I cannot state any facts about it."
)

// Config controls suggested actions
type Config struct {
	MaxActions int          `mapstructure:"max_actions"`
	Rules      []RuleConfig `mapstructure:"rules"`
}

// DefaultConfig returns the built-in rule table capped at four actions
func DefaultConfig() Config {
	return Config{MaxActions: 4, Rules: DefaultRules()}
}

// Notice carries what the policy evaluator and broker decided for this turn
type Notice struct {
	WasDowngraded     bool
	SearchContext     domain.SearchContext
	TimedOutProviders []string
}

type style struct {
	opening string
	closing string
}

var styles = map[domain.Personality]style{
	domain.PersonalityExecutiveAdvisor: {
		opening: "Here is the executive summary based on {count} sources.",
		closing: "I recommend reviewing the suggested actions with your leadership team.",
	},
	domain.PersonalityStrategicConsultant: {
		opening: "From a strategic perspective, {count} sources shape the picture.",
		closing: "Consider how these findings affect your longer-term positioning.",
	},
	domain.PersonalityAnalyticalExpert: {
		opening: "Analysis of {count} sources, ranked by relevance:",
		closing: "Confidence reflects the relevance of the top-ranked sources.",
	},
	domain.PersonalityFriendlyAssistant: {
		opening: "Happy to help! Here is what I found across {count} sources.",
		closing: "Let me know if you would like me to dig deeper into any of these.",
	},
	domain.PersonalityConciseBriefing: {
		opening: "Briefing ({count} sources):",
	},
}

// Composer builds assistant messages. It is safe for concurrent use.
type Composer struct {
	rules      []rule
	maxActions int
	now        func() time.Time
}

// New compiles the action rule table
func New(cfg Config) (*Composer, error) {
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = DefaultConfig().MaxActions
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return &Composer{rules: rules, maxActions: cfg.MaxActions, now: time.Now}, nil
}

// Compose renders the blended result in the personality's style. Metadata is
// always attached and its counts always match the returned sources.
func (c *Composer) Compose(blended blend.Result, personality domain.Personality, notice Notice, searchTime time.Duration) domain.Message {
	st, ok := styles[personality]
	if !ok {
		st = styles[domain.PersonalityFriendlyAssistant]
	}

	var b strings.Builder
	if notice.WasDowngraded {
		b.WriteString(DowngradeDisclosure)
		b.WriteString("\n\n")
	}

	var sources []domain.Source
	var actions []string
	if blended.NoEvidence || len(blended.Sources) == 0 {
		b.WriteString(NoEvidenceDisclosure)
	} else {
		sources = make([]domain.Source, len(blended.Sources))
		copy(sources, blended.Sources)
		actions = suggest(c.rules, sources, c.maxActions)
		writeBody(&b, st, sources, blended.ConfidenceScore)
	}

	internal, internet := domain.CountByBucket(sources)
	meta := &domain.SynthesisMetadata{
		PersonalityApplied:   personality,
		SearchContext:        notice.SearchContext,
		SearchTimeMs:         searchTime.Milliseconds(),
		ConfidenceScore:      blended.ConfidenceScore,
		InternalResultsCount: internal,
		InternetResultsCount: internet,
		SynthesisQuality:     blended.SynthesisQuality,
		NoEvidence:           len(sources) == 0,
		TimedOutProviders:    notice.TimedOutProviders,
	}
	if meta.NoEvidence {
		meta.ConfidenceScore = 0
		meta.SynthesisQuality = 0
	}

	return domain.Message{
		ID:               uuid.NewString(),
		Role:             domain.MessageRoleAssistant,
		Content:          b.String(),
		Timestamp:        c.now().UTC(),
		Sources:          sources,
		Metadata:         meta,
		SuggestedActions: actions,
	}
}

func writeBody(b *strings.Builder, st style, sources []domain.Source, confidence float64) {
	b.WriteString(strings.ReplaceAll(st.opening, "{count}", fmt.Sprint(len(sources))))
	b.WriteString("\n")
	for _, s := range sources {
		fmt.Fprintf(b, "\n- %s (%s, %s, relevance %.2f)", s.Title, s.Origin, s.Type, s.RelevanceScore)
	}
	fmt.Fprintf(b, "\n\nOverall confidence: %.0f%%.", confidence*100)
	if st.closing != "" {
		b.WriteString("\n")
		b.WriteString(st.closing)
	}
}
