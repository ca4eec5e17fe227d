package domain

import (
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// SourceType classifies where a piece of evidence came from
type SourceType string

const (
	SourceTypeInternal SourceType = "internal"
	SourceTypeDatabase SourceType = "database"
	SourceTypeAPI      SourceType = "api"
	SourceTypeInternet SourceType = "internet"
)

// Priority ranks source types for tie-breaking; higher is more trusted
func (t SourceType) Priority() int {
	switch t {
	case SourceTypeInternal:
		return 4
	case SourceTypeDatabase:
		return 3
	case SourceTypeAPI:
		return 2
	case SourceTypeInternet:
		return 1
	}
	return 0
}

// IsInternet reports whether the source counts toward internet results
func (t SourceType) IsInternet() bool {
	return t == SourceTypeInternet
}

// Source is one attributed piece of evidence used to produce an answer
type Source struct {
	Type           SourceType `json:"type"`
	Origin         string     `json:"origin"`
	Title          string     `json:"title"`
	URL            string     `json:"url,omitempty"`
	RelevanceScore float64    `json:"relevance_score"`
}

// SynthesisMetadata describes how an answer was produced
type SynthesisMetadata struct {
	PersonalityApplied   Personality   `json:"personality_applied"`
	SearchContext        SearchContext `json:"search_context,omitempty"`
	SearchTimeMs         int64         `json:"search_time_ms"`
	ConfidenceScore      float64       `json:"confidence_score"`
	InternalResultsCount int           `json:"internal_results_count"`
	InternetResultsCount int           `json:"internet_results_count"`
	SynthesisQuality     float64       `json:"synthesis_quality"`
	NoEvidence           bool          `json:"no_evidence,omitempty"`
	TimedOutProviders    []string      `json:"timed_out_providers,omitempty"`
}

// Message is one turn in the conversation. Messages are immutable once emitted.
type Message struct {
	ID               string             `json:"id"`
	Role             MessageRole        `json:"role"`
	Content          string             `json:"content"`
	Timestamp        time.Time          `json:"timestamp"`
	Sources          []Source           `json:"sources,omitempty"`
	Metadata         *SynthesisMetadata `json:"metadata,omitempty"`
	SuggestedActions []string           `json:"suggested_actions,omitempty"`
}

// CountByBucket returns the internal and internet counts of a source list
func CountByBucket(sources []Source) (internal, internet int) {
	for _, s := range sources {
		if s.Type.IsInternet() {
			internet++
		} else {
			internal++
		}
	}
	return internal, internet
}
