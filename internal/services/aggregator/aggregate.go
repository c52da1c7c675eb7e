package aggregator

import "github.com/Egham-7/tokentra/internal/models"

// Aggregate summarizes a batch. Cost is input plus output cost; records are
// always bucketed by model and by feature, team and project only when set.
func Aggregate(records []models.UsageRecord) models.AggregatedBatch {
	out := models.AggregatedBatch{
		RequestCount: len(records),
		ByFeature:    make(map[string]models.ScopeStat),
		ByTeam:       make(map[string]models.ScopeStat),
		ByProject:    make(map[string]models.ScopeStat),
		ByModel:      make(map[string]models.ScopeStat),
	}

	for _, r := range records {
		cost := r.Cost()
		out.TotalCost += cost
		out.TotalTokens += r.InputTokens + r.OutputTokens
		if r.IsError {
			out.ErrorCount++
		}

		if r.Feature != "" {
			add(out.ByFeature, r.Feature, cost)
		}
		if r.TeamID != "" {
			add(out.ByTeam, r.TeamID, cost)
		}
		if r.ProjectID != "" {
			add(out.ByProject, r.ProjectID, cost)
		}
		add(out.ByModel, r.Model, cost)
	}

	return out
}

func add(m map[string]models.ScopeStat, key string, cost float64) {
	s := m[key]
	s.Cost += cost
	s.Count++
	m[key] = s
}
