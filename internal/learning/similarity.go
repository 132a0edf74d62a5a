package learning

import (
	"regexp"
	"strings"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// Scorer computes similarity between two pattern signatures in [0, 1].
type Scorer interface {
	Score(a, b models.PatternSignature) float64
}

// Signature similarity weights. Error type dominates because it is the
// strongest predictor of a transferable fix.
const (
	weightErrorType = 0.5
	weightMessage   = 0.3
	weightLocation  = 0.2
)

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

// WeightedScorer is the default Scorer: exact error-type match, Jaccard
// token overlap on the normalized message, and exact location match.
type WeightedScorer struct{}

func (WeightedScorer) Score(a, b models.PatternSignature) float64 {
	var score float64

	if a.ErrorType != "" && strings.EqualFold(a.ErrorType, b.ErrorType) {
		score += weightErrorType
	}
	score += weightMessage * jaccard(tokenize(a.Message), tokenize(b.Message))
	if a.Location != "" && a.Location == b.Location {
		score += weightLocation
	}

	return score
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenSplitRe.Split(strings.ToLower(s), -1) {
		if len(tok) > 1 {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

var _ Scorer = WeightedScorer{}
