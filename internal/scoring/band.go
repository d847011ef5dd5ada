package scoring

import (
	"fmt"
	"math"
)

const NormalizedTotal = 40

type BandRange struct {
	Min, Max int
	Band     float64
}

// BandTable is an ordered list of closed ranges, highest first, covering
// every integer in 0..NormalizedTotal exactly once.
type BandTable []BandRange

// Validate checks that the table is total, gap-free and monotonic.
func (t BandTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("band table is empty")
	}
	next := NormalizedTotal
	prevBand := math.Inf(1)
	for i, r := range t {
		if r.Max != next {
			return fmt.Errorf("range %d: expected max %d, got %d", i, next, r.Max)
		}
		if r.Min > r.Max {
			return fmt.Errorf("range %d: min %d > max %d", i, r.Min, r.Max)
		}
		if r.Band > prevBand {
			return fmt.Errorf("range %d: band %.1f above previous %.1f", i, r.Band, prevBand)
		}
		if r.Band < 0 || r.Band > 9 || math.Mod(r.Band*2, 1) != 0 {
			return fmt.Errorf("range %d: band %.2f is not a half band", i, r.Band)
		}
		prevBand = r.Band
		next = r.Min - 1
	}
	if next != -1 {
		return fmt.Errorf("table does not reach 0 (stops at %d)", next+1)
	}
	return nil
}

func (t BandTable) Lookup(n int) (float64, error) {
	if n < 0 || n > NormalizedTotal {
		return 0, fmt.Errorf("score %d outside 0..%d", n, NormalizedTotal)
	}
	for _, r := range t {
		if n >= r.Min && n <= r.Max {
			return r.Band, nil
		}
	}
	return 0, fmt.Errorf("no band for score %d", n)
}

func mustTable(t BandTable) BandTable {
	if err := t.Validate(); err != nil {
		panic("scoring: invalid band table: " + err.Error())
	}
	return t
}

var ListeningBands = mustTable(BandTable{
	{39, 40, 9.0}, {37, 38, 8.5}, {35, 36, 8.0}, {32, 34, 7.5},
	{30, 31, 7.0}, {26, 29, 6.5}, {23, 25, 6.0}, {18, 22, 5.5},
	{16, 17, 5.0}, {13, 15, 4.5}, {10, 12, 4.0}, {8, 9, 3.5},
	{6, 7, 3.0}, {4, 5, 2.5}, {3, 3, 2.0}, {2, 2, 1.5},
	{1, 1, 1.0}, {0, 0, 1.0},
})

// ReadingBands is the Academic reading conversion.
var ReadingBands = mustTable(BandTable{
	{39, 40, 9.0}, {37, 38, 8.5}, {35, 36, 8.0}, {33, 34, 7.5},
	{30, 32, 7.0}, {27, 29, 6.5}, {23, 26, 6.0}, {19, 22, 5.5},
	{15, 18, 5.0}, {13, 14, 4.5}, {10, 12, 4.0}, {8, 9, 3.5},
	{6, 7, 3.0}, {4, 5, 2.5}, {3, 3, 2.0}, {2, 2, 1.5},
	{1, 1, 1.0}, {0, 0, 1.0},
})

func TableFor(m Module) (BandTable, error) {
	switch m {
	case ModuleListening:
		return ListeningBands, nil
	case ModuleReading:
		return ReadingBands, nil
	default:
		return nil, fmt.Errorf("module %q has no band table", m)
	}
}

// Normalize rescales raw out of total to the 40-point scale.
func Normalize(raw, total float64) (int, error) {
	if total <= 0 {
		return 0, fmt.Errorf("total must be positive, got %v", total)
	}
	if raw < 0 || raw > total {
		return 0, fmt.Errorf("raw score %v outside 0..%v", raw, total)
	}
	if total == NormalizedTotal {
		return int(math.Round(raw)), nil
	}
	n := int(math.Round(raw * NormalizedTotal / total))
	if n > NormalizedTotal {
		n = NormalizedTotal
	}
	return n, nil
}

// Band converts a raw score for an objective module.
func Band(m Module, raw, total float64) (float64, error) {
	t, err := TableFor(m)
	if err != nil {
		return 0, err
	}
	n, err := Normalize(raw, total)
	if err != nil {
		return 0, err
	}
	return t.Lookup(n)
}
