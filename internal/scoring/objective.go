package scoring

import "fmt"

type ObjectiveResult struct {
	RawScore   float64
	MaxScore   float64
	Normalized int
	Band       float64
	// Correct has one entry per auto-gradable question that was keyed.
	Correct map[string]bool
}

// ScoreObjective grades answers against keys and converts the total to a
// band. Questions without an answer count as incorrect.
func ScoreObjective(m Module, keys []QuestionKey, answers map[string]Value) (ObjectiveResult, error) {
	if !m.Objective() {
		return ObjectiveResult{}, fmt.Errorf("module %q is not auto-scored", m)
	}
	res := ObjectiveResult{Correct: make(map[string]bool, len(keys))}
	for _, k := range keys {
		if k.Type == Essay {
			continue
		}
		if k.MaxScore < 0 {
			return ObjectiveResult{}, fmt.Errorf("question %s: negative max score", k.QuestionID)
		}
		res.MaxScore += k.MaxScore
		ok := Match(k, answers[k.QuestionID])
		res.Correct[k.QuestionID] = ok
		if ok {
			res.RawScore += k.MaxScore
		}
	}
	if res.MaxScore == 0 {
		return ObjectiveResult{}, fmt.Errorf("test has no gradable questions")
	}
	n, err := Normalize(res.RawScore, res.MaxScore)
	if err != nil {
		return ObjectiveResult{}, err
	}
	t, err := TableFor(m)
	if err != nil {
		return ObjectiveResult{}, err
	}
	band, err := t.Lookup(n)
	if err != nil {
		return ObjectiveResult{}, err
	}
	res.Normalized = n
	res.Band = band
	return res, nil
}
