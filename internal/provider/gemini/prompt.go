package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildPrompt asks the model for a ranked list of findings as JSON
func BuildPrompt(question string, limit int) string {
	return fmt.Sprintf(`You are a research analyst preparing a briefing for company leadership.

Research the question below and list the %d most relevant findings.

Rules:
1. Respond with ONLY a JSON array, no explanations or markdown
2. Each element has "title" (one sentence), "url" (the best public reference, or "") and "relevance" (0 to 1)
3. Order findings from most to least relevant
4. Prefer primary sources: filings, official statistics, vendor documentation
5. Do not invent URLs

Question: %s

JSON:`, limit, question)
}

// Finding is one research result returned by the model
type Finding struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Relevance float64 `json:"relevance"`
}

// ParseFindings extracts the JSON array from a model reply
func ParseFindings(content string) ([]Finding, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var findings []Finding
	if err := json.Unmarshal([]byte(raw), &findings); err != nil {
		return nil, fmt.Errorf("failed to parse findings: %w", err)
	}

	out := findings[:0]
	for _, f := range findings {
		f.Title = strings.TrimSpace(f.Title)
		if f.Title == "" {
			continue
		}
		if f.Relevance < 0 {
			f.Relevance = 0
		}
		if f.Relevance > 1 {
			f.Relevance = 1
		}
		out = append(out, f)
	}
	return out, nil
}

func extractJSON(content string) string {
	if s := fromCodeBlock(content, "```json"); s != "" {
		return s
	}
	if s := fromCodeBlock(content, "```"); s != "" {
		return s
	}

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}

func fromCodeBlock(content, marker string) string {
	start := strings.Index(content, marker)
	if start == -1 {
		return ""
	}
	rest := strings.TrimPrefix(content[start+len(marker):], "\n")
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
