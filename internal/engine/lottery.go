package engine

import (
	"fmt"
	"math"
	"math/rand"
)

// Lottery outcome kinds.
const (
	OutcomePoints = "points"
	OutcomeItem   = "item"
)

// WeightedOutcome pairs an outcome kind with its draw probability.
type WeightedOutcome struct {
	Outcome     string
	Probability float64
}

const probabilityTolerance = 1e-9

// Draw picks one outcome by a uniform draw over the cumulative probability
// ranges. The random source is supplied by the caller so draws are
// reproducible under test.
func Draw(outcomes []WeightedOutcome, rnd *rand.Rand) (string, error) {
	if len(outcomes) == 0 {
		return "", fmt.Errorf("lottery: no outcomes")
	}
	sum := 0.0
	for _, o := range outcomes {
		if o.Probability < 0 {
			return "", fmt.Errorf("lottery: negative probability for %s", o.Outcome)
		}
		sum += o.Probability
	}
	if math.Abs(sum-1.0) > probabilityTolerance {
		return "", fmt.Errorf("lottery: probabilities sum to %v, want 1", sum)
	}
	roll := rnd.Float64()
	acc := 0.0
	for _, o := range outcomes {
		acc += o.Probability
		if roll < acc {
			return o.Outcome, nil
		}
	}
	// Float accumulation can leave the last range fractionally short.
	return outcomes[len(outcomes)-1].Outcome, nil
}

func (e Engine) lotteryTable() []WeightedOutcome {
	p := e.Config.Lottery.PointsProbability
	return []WeightedOutcome{
		{Outcome: OutcomePoints, Probability: p},
		{Outcome: OutcomeItem, Probability: 1 - p},
	}
}
