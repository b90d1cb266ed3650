package quality

import "sync"

// Confidence prior adjustments: a success nudges the source up, a failure
// knocks it down harder. Scores stay in [0, 100].
const (
	successNudge   = 2
	failurePenalty = 5
	defaultPrior   = 80.0
)

// ReliabilityTracker maintains a per-source reliability prior, updated by
// fetch outcomes over time.
type ReliabilityTracker struct {
	mu     sync.Mutex
	scores map[string]float64
	priors map[string]float64
}

// NewReliabilityTracker creates a tracker seeded with the given static priors.
// Sources without a prior start at the default.
func NewReliabilityTracker(priors map[string]float64) *ReliabilityTracker {
	p := make(map[string]float64, len(priors))
	for k, v := range priors {
		p[k] = clamp(v)
	}
	return &ReliabilityTracker{
		scores: make(map[string]float64),
		priors: p,
	}
}

// Score returns the current reliability prior for the source.
func (t *ReliabilityTracker) Score(source string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scoreLocked(source)
}

// RecordSuccess nudges the source's score up by 2 points.
func (t *ReliabilityTracker) RecordSuccess(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[source] = clamp(t.scoreLocked(source) + successNudge)
}

// RecordFailure drops the source's score by 5 points.
func (t *ReliabilityTracker) RecordFailure(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[source] = clamp(t.scoreLocked(source) - failurePenalty)
}

func (t *ReliabilityTracker) scoreLocked(source string) float64 {
	if s, ok := t.scores[source]; ok {
		return s
	}
	if p, ok := t.priors[source]; ok {
		return p
	}
	return defaultPrior
}
