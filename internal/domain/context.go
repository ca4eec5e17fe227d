package domain

// ProviderStatus is how a single context provider call ended
type ProviderStatus string

const (
	ProviderStatusOK      ProviderStatus = "ok"
	ProviderStatusTimeout ProviderStatus = "timeout"
	ProviderStatusError   ProviderStatus = "error"
)

// ProviderOutcome records one provider call for telemetry
type ProviderOutcome struct {
	Provider  string         `json:"provider"`
	Status    ProviderStatus `json:"status"`
	Count     int            `json:"count"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Error     string         `json:"error,omitempty"`
}

// ContextResult is everything the context broker gathered for one query.
// Failed or timed-out providers contribute nothing to Internal/Internet.
type ContextResult struct {
	Internal  []Source          `json:"internal"`
	Internet  []Source          `json:"internet"`
	ElapsedMs int64             `json:"elapsed_ms"`
	Outcomes  []ProviderOutcome `json:"outcomes,omitempty"`
}

// TimedOut returns the names of providers that hit a timeout
func (r *ContextResult) TimedOut() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Status == ProviderStatusTimeout {
			names = append(names, o.Provider)
		}
	}
	return names
}
