package coordinator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"boardroom/internal/types"
)

func meanConfidence(analyses []types.RoleAnalysis) float64 {
	if len(analyses) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range analyses {
		sum += a.Result.Confidence
	}
	return sum / float64(len(analyses))
}

func meanImpact(analyses []types.RoleAnalysis) float64 {
	if len(analyses) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range analyses {
		sum += a.Result.Impact
	}
	return sum / float64(len(analyses))
}

// impactVariance computes the population variance of the gathered impacts.
func impactVariance(analyses []types.RoleAnalysis) float64 {
	if len(analyses) == 0 {
		return 0
	}
	mean := meanImpact(analyses)
	sum := 0.0
	for _, a := range analyses {
		d := a.Result.Impact - mean
		sum += d * d
	}
	return sum / float64(len(analyses))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// synthesize merges analyses into one decision body: implementation steps
// are concatenated and deduplicated in authority order, the longest
// proposed timeline wins, and distinct resource notes are joined.
func synthesize(dctx types.DecisionContext, analyses []types.RoleAnalysis) types.Synthesis {
	syn := types.Synthesis{
		Summary: fmt.Sprintf("%s: agreed across %d roles", dctx.Title, len(analyses)),
	}

	seen := make(map[string]bool)
	addStep := func(step string) {
		key := strings.ToLower(strings.TrimSpace(step))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		syn.Implementation = append(syn.Implementation, step)
	}

	var resources []string
	resourceSeen := make(map[string]bool)

	for _, a := range analyses {
		for _, opp := range a.Result.Opportunities {
			addStep("Capture opportunity: " + opp)
		}
		for _, risk := range a.Result.RiskFactors {
			addStep("Mitigate risk: " + risk)
		}
		if tl := a.Result.Timeline; tl != "" {
			if syn.Timeline == "" || timelineDays(tl) > timelineDays(syn.Timeline) {
				syn.Timeline = tl
			}
		}
		if res := strings.TrimSpace(a.Result.Resources); res != "" && !resourceSeen[strings.ToLower(res)] {
			resourceSeen[strings.ToLower(res)] = true
			resources = append(resources, res)
		}
	}
	syn.Resources = strings.Join(resources, "; ")

	return syn
}

var timelinePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(days?|weeks?|months?|quarters?|years?)`)

var unitDays = map[string]float64{
	"day":     1,
	"week":    7,
	"month":   30,
	"quarter": 91,
	"year":    365,
}

// timelineDays scores a free-text timeline ("6 weeks", "2-3 months") so
// "longest timeline" compares durations rather than string lengths. Text
// with no recognizable duration scores zero.
func timelineDays(timeline string) float64 {
	longest := 0.0
	for _, m := range timelinePattern.FindAllStringSubmatch(timeline, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := strings.TrimSuffix(strings.ToLower(m[2]), "s")
		if days := value * unitDays[unit]; days > longest {
			longest = days
		}
	}
	return longest
}
