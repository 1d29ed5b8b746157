package bank

import (
	"math"
	"sort"
	"strings"

	"github.com/bowerhall/contextbank/internal/config"
)

// recencyKeywords signal that the caller cares about fresh content. Matched
// as substrings of the lowercased query.
var recencyKeywords = []string{"latest", "recent", "today", "this week", "new", "now"}

const (
	recencyAlpha   = 0.7
	recencyTauDays = 7.0
	neutralRecency = 0.5
)

// RankParams is everything Stage B needs. It carries the tau the stored
// scores were computed with so a shorter effective tau can be applied as a
// pure rescale.
type RankParams struct {
	Alpha     float64
	TauDays   float64
	StoredTau float64
	Mode      string
}

// AdaptiveParams picks ranking parameters for a query. Queries carrying a
// recency keyword get a lower alpha and a shorter effective half-life;
// everything else uses the configured defaults.
func AdaptiveParams(queryText string, cfg config.RankingConfig) RankParams {
	p := RankParams{Alpha: cfg.Alpha, TauDays: cfg.TauDays, StoredTau: cfg.TauDays, Mode: cfg.Mode}

	lower := strings.ToLower(queryText)
	for _, kw := range recencyKeywords {
		if strings.Contains(lower, kw) {
			p.Alpha = recencyAlpha
			p.TauDays = recencyTauDays
			break
		}
	}

	return p
}

// Rerank is Stage B: a pure function from Stage-A candidates and parameters
// to scored results, sorted by (final, semantic) descending. It never touches
// the database; candidates arrive with Distance and Recency populated.
func Rerank(candidates []RankedResult, p RankParams) []RankedResult {
	results := make([]RankedResult, len(candidates))
	copy(results, candidates)

	for i := range results {
		semantic := 1 - results[i].Distance
		if semantic < 0 {
			semantic = 0
		}
		if semantic > 1 {
			semantic = 1
		}

		recency := effectiveRecency(results[i].Recency, p)

		var final float64
		switch p.Mode {
		case config.ModeMultiplier:
			final = semantic * (0.5 + 0.5*recency)
		default:
			final = p.Alpha*semantic + (1-p.Alpha)*recency
		}

		results[i].Semantic = semantic
		results[i].Recency = recency
		results[i].Final = final
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Final != results[b].Final {
			return results[a].Final > results[b].Final
		}
		return results[a].Semantic > results[b].Semantic
	})

	return results
}

// effectiveRecency rescales a stored score exp(-age/storedTau) to a shorter
// half-life: exp(-age/tau) = stored^(storedTau/tau). Neutral scores stay
// neutral; they encode "no timestamp", not an age.
func effectiveRecency(stored float64, p RankParams) float64 {
	if stored == neutralRecency || p.TauDays == p.StoredTau || p.TauDays <= 0 || p.StoredTau <= 0 {
		return stored
	}
	if stored <= 0 {
		return 0
	}
	return math.Pow(stored, p.StoredTau/p.TauDays)
}
