package remediation

import (
	"context"
	"sort"

	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/pkg/types"
)

// Recommendation is an analyzer collaborator's opinion on how to remediate
// an incident.
type Recommendation struct {
	PlaybookID     string
	Params         map[string]interface{}
	RiskAssessment string
	IsAutoSafe     bool
	Confidence     float64
	Reasoning      string
}

// Analyzer recommends a playbook for an incident. Production deployments
// may wrap an LLM; the core ships a deterministic rules-based default.
type Analyzer interface {
	Recommend(ctx context.Context, inc *types.Incident, catalog map[string]Playbook) (*Recommendation, error)
}

// rulesAnalyzer picks the playbook whose ApplicableIssues names the
// incident's type, preferring the one with the best recorded success rate
// when more than one candidate applies.
type rulesAnalyzer struct {
	incidents incident.Manager // optional; nil disables learning-weighted selection
}

// NewRulesAnalyzer constructs the default rules-based Analyzer. incidents may
// be nil, in which case ties are broken by playbook ID order alone.
func NewRulesAnalyzer(incidents incident.Manager) Analyzer {
	return &rulesAnalyzer{incidents: incidents}
}

func (a *rulesAnalyzer) Recommend(ctx context.Context, inc *types.Incident, catalog map[string]Playbook) (*Recommendation, error) {
	var candidates []Playbook
	for _, pb := range catalog {
		for _, issue := range pb.ApplicableIssues {
			if issue == inc.Type {
				candidates = append(candidates, pb)
				break
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	if len(candidates) == 0 {
		return &Recommendation{
			PlaybookID:     "manual",
			RiskAssessment: "no applicable playbook found for this incident type",
			IsAutoSafe:     false,
			Confidence:     0,
			Reasoning:      "incident type " + string(inc.Type) + " matches no catalog entry",
		}, nil
	}

	best := candidates[0]
	bestRate := -1.0
	if a.incidents != nil {
		if stats, err := a.incidents.GetLearningStats(ctx); err == nil {
			for _, pb := range candidates {
				if eff, ok := stats.PlaybookEffectiveness[pb.ID]; ok && eff.TotalUses > 0 && eff.SuccessRate > bestRate {
					best = pb
					bestRate = eff.SuccessRate
				}
			}
		}
	}

	return &Recommendation{
		PlaybookID:     best.ID,
		Params:         map[string]interface{}{},
		RiskAssessment: string(best.RiskLevel),
		IsAutoSafe:     best.AutoExecute,
		Confidence:     confidenceFor(bestRate),
		Reasoning:      "matched incident type " + string(inc.Type) + " to playbook " + best.ID,
	}, nil
}

func confidenceFor(successRate float64) float64 {
	if successRate < 0 {
		return 0.5
	}
	return successRate
}
