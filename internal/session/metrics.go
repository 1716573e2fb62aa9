package session

import "boardroom/internal/types"

// metricsWindow is how many trailing flow entries feed the speed and
// quality metrics.
const metricsWindow = 10

// recomputeMetrics derives the live metric snapshot from session state.
// Called after every input with the session lock held. Every ratio is
// clamped to [0,1].
func (s *Session) recomputeMetrics() {
	window := s.flow
	if len(window) > metricsWindow {
		window = window[len(window)-metricsWindow:]
	}

	// coordinationSpeed: actions per minute over the trailing window,
	// capped at 1. A single entry gives no rate yet.
	speed := 0.0
	if len(window) >= 2 {
		span := window[len(window)-1].Timestamp.Sub(window[0].Timestamp)
		if span <= 0 {
			speed = 1
		} else {
			speed = float64(len(window)) / span.Minutes()
		}
	}
	s.metrics.CoordinationSpeed = clamp01(speed)

	// consensusLevel: approved proposals over total proposals.
	if len(s.proposals) == 0 {
		s.metrics.ConsensusLevel = 0
	} else {
		approved := 0
		for _, p := range s.proposals {
			if p.Status == types.ProposalApproved {
				approved++
			}
		}
		s.metrics.ConsensusLevel = clamp01(float64(approved) / float64(len(s.proposals)))
	}

	// decisionQuality: mean confidence over the trailing window.
	if len(window) == 0 {
		s.metrics.DecisionQuality = 0
	} else {
		sum := 0.0
		for _, e := range window {
			sum += e.Confidence
		}
		s.metrics.DecisionQuality = clamp01(sum / float64(len(window)))
	}

	// executionReadiness: completed outcomes over total outcomes.
	if len(s.outcomes) == 0 {
		s.metrics.ExecutionReadiness = 0
	} else {
		done := 0
		for _, o := range s.outcomes {
			if o.Status == types.OutcomeCompleted {
				done++
			}
		}
		s.metrics.ExecutionReadiness = clamp01(float64(done) / float64(len(s.outcomes)))
	}
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
