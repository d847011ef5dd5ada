package scoring

import (
	"fmt"
	"math"
)

// Criteria are the four analytic bands an evaluator returns per task.
type Criteria struct {
	TaskResponse      float64 `json:"tr"`
	CoherenceCohesion float64 `json:"cc"`
	LexicalResource   float64 `json:"lr"`
	GrammaticalRange  float64 `json:"gra"`
}

func (c Criteria) Validate() error {
	for name, v := range map[string]float64{
		"tr": c.TaskResponse, "cc": c.CoherenceCohesion,
		"lr": c.LexicalResource, "gra": c.GrammaticalRange,
	} {
		if v < 0 || v > 9 || math.Mod(v*2, 1) != 0 {
			return fmt.Errorf("criterion %s: %v is not a band between 0 and 9", name, v)
		}
	}
	return nil
}

// Band is the unrounded mean of the criteria.
func (c Criteria) Band() float64 {
	return (c.TaskResponse + c.CoherenceCohesion + c.LexicalResource + c.GrammaticalRange) / 4
}

type WritingResult struct {
	Task1Band float64
	Task2Band float64
	Weighted  float64 // (task1 + 2*task2) / 3, unrounded
	Overall   float64
}

// ScoreWriting weights Task 2 double.
func ScoreWriting(task1, task2 Criteria) (WritingResult, error) {
	if err := task1.Validate(); err != nil {
		return WritingResult{}, fmt.Errorf("task1: %w", err)
	}
	if err := task2.Validate(); err != nil {
		return WritingResult{}, fmt.Errorf("task2: %w", err)
	}
	return WeightWriting(task1.Band(), task2.Band()), nil
}

func WeightWriting(task1Band, task2Band float64) WritingResult {
	w := (task1Band + 2*task2Band) / 3
	return WritingResult{
		Task1Band: task1Band,
		Task2Band: task2Band,
		Weighted:  w,
		Overall:   RoundHalfBand(w),
	}
}

// RoundHalfBand rounds to the reported half band. A fractional part below
// .25 drops to the whole band, .25 through .5 reports .5, anything above .5
// goes to the next whole band (6.67 reports 7.0, 6.75 reports 7.0).
func RoundHalfBand(x float64) float64 {
	const eps = 1e-9
	whole := math.Floor(x + eps)
	frac := x - whole
	switch {
	case frac < 0.25-eps:
		return whole
	case frac <= 0.5+eps:
		return whole + 0.5
	default:
		return whole + 1
	}
}
