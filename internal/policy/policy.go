// Package policy decides which search contexts and personalities a role may use.
//
// Requests for something a role is not permitted to use are downgraded to the
// role's default rather than rejected, and the decision records that it happened.
package policy

import (
	"github.com/Rrens/intel-chat/internal/domain"
)

// Decision is the outcome of evaluating a request against a role's profile
type Decision struct {
	Context       domain.SearchContext `json:"search_context"`
	Personality   domain.Personality   `json:"personality"`
	WasDowngraded bool                 `json:"was_downgraded"`
}

var table = map[domain.Role]domain.AccessProfile{
	domain.RoleCEO: {
		Role: domain.RoleCEO,
		SearchContexts: []domain.SearchContext{
			domain.SearchContextCEODeepResearch,
			domain.SearchContextBlendedIntelligence,
			domain.SearchContextInternetResearch,
			domain.SearchContextInternalOnly,
		},
		Personalities:        domain.Personalities,
		DefaultSearchContext: domain.SearchContextCEODeepResearch,
		DefaultPersonality:   domain.PersonalityExecutiveAdvisor,
	},
	domain.RoleExecutive: {
		Role: domain.RoleExecutive,
		SearchContexts: []domain.SearchContext{
			domain.SearchContextBlendedIntelligence,
			domain.SearchContextInternetResearch,
			domain.SearchContextInternalOnly,
		},
		Personalities: []domain.Personality{
			domain.PersonalityExecutiveAdvisor,
			domain.PersonalityStrategicConsultant,
			domain.PersonalityAnalyticalExpert,
			domain.PersonalityFriendlyAssistant,
		},
		DefaultSearchContext: domain.SearchContextBlendedIntelligence,
		DefaultPersonality:   domain.PersonalityExecutiveAdvisor,
	},
	domain.RoleManager: {
		Role: domain.RoleManager,
		SearchContexts: []domain.SearchContext{
			domain.SearchContextBlendedIntelligence,
			domain.SearchContextInternalOnly,
		},
		Personalities: []domain.Personality{
			domain.PersonalityAnalyticalExpert,
			domain.PersonalityFriendlyAssistant,
			domain.PersonalityConciseBriefing,
		},
		DefaultSearchContext: domain.SearchContextBlendedIntelligence,
		DefaultPersonality:   domain.PersonalityAnalyticalExpert,
	},
	domain.RoleEmployee: {
		Role: domain.RoleEmployee,
		SearchContexts: []domain.SearchContext{
			domain.SearchContextInternalOnly,
		},
		Personalities: []domain.Personality{
			domain.PersonalityFriendlyAssistant,
			domain.PersonalityConciseBriefing,
		},
		DefaultSearchContext: domain.SearchContextInternalOnly,
		DefaultPersonality:   domain.PersonalityFriendlyAssistant,
	},
}

// Profile returns the access profile for a role. Unknown roles get the employee profile.
func Profile(role domain.Role) domain.AccessProfile {
	p, ok := table[role]
	if !ok {
		p = table[domain.RoleEmployee]
	}
	// copy slices so callers cannot mutate the shared table
	p.SearchContexts = append([]domain.SearchContext(nil), p.SearchContexts...)
	p.Personalities = append([]domain.Personality(nil), p.Personalities...)
	return p
}

// Evaluate gates a requested search context and personality for a role.
// An empty request selects the role default and is not a downgrade.
func Evaluate(role domain.Role, requestedContext domain.SearchContext, requestedPersonality domain.Personality) Decision {
	p, ok := table[role]
	if !ok {
		p = table[domain.RoleEmployee]
	}

	d := Decision{
		Context:     requestedContext,
		Personality: requestedPersonality,
	}

	if requestedContext == "" {
		d.Context = p.DefaultSearchContext
	} else if !p.AllowsContext(requestedContext) {
		d.Context = p.DefaultSearchContext
		d.WasDowngraded = true
	}

	if requestedPersonality == "" {
		d.Personality = p.DefaultPersonality
	} else if !p.AllowsPersonality(requestedPersonality) {
		d.Personality = p.DefaultPersonality
		d.WasDowngraded = true
	}

	return d
}
