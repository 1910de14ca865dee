package intent

import (
	"fmt"
	"math"
	"time"
)

// speedZeroPoint is the estimated time at which the speed signal reaches
// zero.
const speedZeroPoint = 10 * time.Second

// teeBonus is the multiplicative boost for TEE-attested providers.
const teeBonus = 1.10

// maxScore bounds the calculated score.
const maxScore = 110

// Weights is one scoring weight set. Signals are each normalized to [0,1];
// the weights of a set sum to 1.
type Weights struct {
	Cost       float64 `json:"cost"`
	Speed      float64 `json:"speed"`
	Reputation float64 `json:"reputation"`
	Confidence float64 `json:"confidence"`
	Quality    float64 `json:"quality"`
}

// DefaultWeights returns the standard weight set.
func DefaultWeights() Weights {
	return Weights{
		Cost:       0.30,
		Speed:      0.20,
		Reputation: 0.15,
		Confidence: 0.35,
	}
}

// LLMWeights returns the variant for LLM/tool intents: the quality signal
// takes the confidence slot.
func LLMWeights() Weights {
	return Weights{
		Cost:       0.30,
		Speed:      0.20,
		Reputation: 0.15,
		Quality:    0.35,
	}
}

// WeightsByCategory maps each category to its weight set. Callers may
// replace entries to tune scoring per domain.
func WeightsByCategory() map[Category]Weights {
	return map[Category]Weights{
		CategoryGeneral: DefaultWeights(),
		CategoryData:    DefaultWeights(),
		CategoryCompute: DefaultWeights(),
		CategoryLLM:     LLMWeights(),
	}
}

// Explanation breaks a score down per signal for observability.
type Explanation struct {
	CostScore       float64 `json:"cost_score"`
	SpeedScore      float64 `json:"speed_score"`
	ReputationScore float64 `json:"reputation_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	QualityScore    float64 `json:"quality_score"`
	TEEBonus        float64 `json:"tee_bonus"`
	Base            float64 `json:"base"`
}

// String implements fmt.Stringer.
func (e Explanation) String() string {
	return fmt.Sprintf("cost=%.2f speed=%.2f rep=%.2f conf=%.2f quality=%.2f tee=%.2f",
		e.CostScore, e.SpeedScore, e.ReputationScore, e.ConfidenceScore, e.QualityScore, e.TEEBonus)
}

// Score is the pure ranking function mapping one bid against its intent to
// an integer score in [0, 110]. Identical inputs always produce identical
// scores; ties between bids are broken by earlier submission time.
func Score(bid *Bid, in *Intent, w Weights) (int, Explanation) {
	exp := Explanation{TEEBonus: 1.0}

	if in.MaxBudget > 0 {
		exp.CostScore = clamp01(1 - float64(bid.BidAmount)/float64(in.MaxBudget))
	}
	exp.SpeedScore = clamp01(1 - float64(bid.EstimatedTime)/float64(speedZeroPoint))
	exp.ReputationScore = clamp01(bid.ReputationScore / 5)
	exp.ConfidenceScore = clamp01(bid.Confidence / 100)
	exp.QualityScore = clamp01(bid.QualityScore / 100)

	exp.Base = w.Cost*exp.CostScore +
		w.Speed*exp.SpeedScore +
		w.Reputation*exp.ReputationScore +
		w.Confidence*exp.ConfidenceScore +
		w.Quality*exp.QualityScore

	if bid.TEEAttested {
		exp.TEEBonus = teeBonus
	}

	score := int(math.Round(100 * exp.Base * exp.TEEBonus))
	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}
	return score, exp
}

// rankLess orders bids by score descending, ties broken by earlier
// submission; a stable total order.
func rankLess(a, b *Bid) bool {
	if a.CalculatedScore != b.CalculatedScore {
		return a.CalculatedScore > b.CalculatedScore
	}
	return a.SubmittedAt.Before(b.SubmittedAt)
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
