package engine

import (
	"math/rand"
	"testing"
)

func TestDrawRespectsRanges(t *testing.T) {
	outcomes := []WeightedOutcome{
		{Outcome: OutcomePoints, Probability: 0.5},
		{Outcome: OutcomeItem, Probability: 0.5},
	}
	rnd := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		got, err := Draw(outcomes, rnd)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		counts[got]++
	}
	// With 10k draws, anything outside 45/55 means the ranges are wrong,
	// not that we got unlucky.
	if counts[OutcomePoints] < 4500 || counts[OutcomePoints] > 5500 {
		t.Fatalf("points drawn %d of 10000", counts[OutcomePoints])
	}
}

func TestDrawDegenerateDistribution(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		got, err := Draw([]WeightedOutcome{
			{Outcome: OutcomePoints, Probability: 1},
			{Outcome: OutcomeItem, Probability: 0},
		}, rnd)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		if got != OutcomePoints {
			t.Fatalf("probability-1 outcome lost a draw")
		}
	}
}

func TestDrawRejectsBadDistributions(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	if _, err := Draw(nil, rnd); err == nil {
		t.Fatal("empty outcome set accepted")
	}
	if _, err := Draw([]WeightedOutcome{
		{Outcome: OutcomePoints, Probability: 0.5},
		{Outcome: OutcomeItem, Probability: 0.4},
	}, rnd); err == nil {
		t.Fatal("sum != 1 accepted")
	}
	if _, err := Draw([]WeightedOutcome{
		{Outcome: OutcomePoints, Probability: -0.5},
		{Outcome: OutcomeItem, Probability: 1.5},
	}, rnd); err == nil {
		t.Fatal("negative probability accepted")
	}
}

func TestDrawToleratesFloatDrift(t *testing.T) {
	// Ten 0.1 slices do not sum to exactly 1 in floating point.
	outcomes := make([]WeightedOutcome, 10)
	for i := range outcomes {
		outcomes[i] = WeightedOutcome{Outcome: OutcomePoints, Probability: 0.1}
	}
	rnd := rand.New(rand.NewSource(7))
	if _, err := Draw(outcomes, rnd); err != nil {
		t.Fatalf("drifted sum rejected: %v", err)
	}
}
