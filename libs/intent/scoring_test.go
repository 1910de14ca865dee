package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kaustubh76/synapse/libs/money"
)

func scoringIntent(budget string) *Intent {
	return &Intent{
		ID:        "intent-1",
		Type:      "weather.current",
		Category:  CategoryGeneral,
		MaxBudget: money.MustParse(budget),
	}
}

func TestScoreHappyPathRanking(t *testing.T) {
	in := scoringIntent("0.020")

	// The two providers from the canonical auction: cheaper but slower and
	// less reputable P2 loses to TEE-attested P1.
	p1 := &Bid{
		BidAmount:       money.MustParse("0.010"),
		EstimatedTime:   500 * time.Millisecond,
		Confidence:      90,
		ReputationScore: 4.5,
		TEEAttested:     true,
	}
	p2 := &Bid{
		BidAmount:       money.MustParse("0.008"),
		EstimatedTime:   800 * time.Millisecond,
		Confidence:      80,
		ReputationScore: 4.0,
	}

	s1, exp1 := Score(p1, in, DefaultWeights())
	s2, exp2 := Score(p2, in, DefaultWeights())

	assert.InDelta(t, 0.5, exp1.CostScore, 1e-9)
	assert.InDelta(t, 0.95, exp1.SpeedScore, 1e-9)
	assert.InDelta(t, 0.9, exp1.ReputationScore, 1e-9)
	assert.InDelta(t, 0.9, exp1.ConfidenceScore, 1e-9)
	assert.Equal(t, 1.10, exp1.TEEBonus)
	assert.Equal(t, 1.0, exp2.TEEBonus)

	assert.Greater(t, s1, s2)
	assert.Equal(t, 87, s1)
	assert.Equal(t, 76, s2)
}

func TestScoreDeterministic(t *testing.T) {
	in := scoringIntent("0.020")
	bid := &Bid{
		BidAmount:       money.MustParse("0.015"),
		EstimatedTime:   2 * time.Second,
		Confidence:      70,
		ReputationScore: 3.5,
		TEEAttested:     true,
	}

	first, _ := Score(bid, in, DefaultWeights())
	for i := 0; i < 100; i++ {
		again, _ := Score(bid, in, DefaultWeights())
		assert.Equal(t, first, again)
	}
}

func TestScoreBounds(t *testing.T) {
	in := scoringIntent("0.020")

	// A perfect TEE-attested bid stays within the cap.
	best := &Bid{
		BidAmount:       money.MustParse("0.000001"),
		EstimatedTime:   0,
		Confidence:      100,
		ReputationScore: 5,
		TEEAttested:     true,
	}
	s, _ := Score(best, in, DefaultWeights())
	assert.LessOrEqual(t, s, 110)
	assert.Equal(t, 110, s)

	// A worst-case bid never goes negative.
	worst := &Bid{
		BidAmount:     money.MustParse("0.020"),
		EstimatedTime: time.Minute,
	}
	s, _ = Score(worst, in, DefaultWeights())
	assert.GreaterOrEqual(t, s, 0)
}

func TestScoreSpeedZeroPoint(t *testing.T) {
	in := scoringIntent("1")
	slow := &Bid{BidAmount: money.MustParse("0.5"), EstimatedTime: 10 * time.Second}

	_, exp := Score(slow, in, DefaultWeights())
	assert.Equal(t, 0.0, exp.SpeedScore)
}

func TestLLMWeightsUseQuality(t *testing.T) {
	in := scoringIntent("0.020")
	in.Category = CategoryLLM

	confident := &Bid{
		BidAmount:     money.MustParse("0.010"),
		EstimatedTime: time.Second,
		Confidence:    100,
		QualityScore:  0,
	}
	proven := &Bid{
		BidAmount:     money.MustParse("0.010"),
		EstimatedTime: time.Second,
		Confidence:    0,
		QualityScore:  100,
	}

	sConfident, _ := Score(confident, in, LLMWeights())
	sProven, _ := Score(proven, in, LLMWeights())

	// Under the LLM weight set history beats self-reported confidence.
	assert.Greater(t, sProven, sConfident)
}

func TestRankLessTieBreak(t *testing.T) {
	earlier := &Bid{CalculatedScore: 80, SubmittedAt: time.Unix(100, 0)}
	later := &Bid{CalculatedScore: 80, SubmittedAt: time.Unix(200, 0)}

	assert.True(t, rankLess(earlier, later))
	assert.False(t, rankLess(later, earlier))

	higher := &Bid{CalculatedScore: 90, SubmittedAt: time.Unix(300, 0)}
	assert.True(t, rankLess(higher, earlier))
}

func TestWeightSetsSumToOne(t *testing.T) {
	for category, w := range WeightsByCategory() {
		sum := w.Cost + w.Speed + w.Reputation + w.Confidence + w.Quality
		assert.InDelta(t, 1.0, sum, 1e-9, "weights for %s", category)
	}
}
