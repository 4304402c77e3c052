package workflow

import (
	"fmt"
	"math"
	"strconv"
)

const momNumberWidth = 3

// NextMomNumber derives the number following latest, the most recent numbered
// MoM of the project. A nil latest starts the sequence at "001". Numbers wider
// than three digits keep growing ("999" is followed by "1000").
func NextMomNumber(latest *string) (string, error) {
	if latest == nil {
		return formatMomNumber(1), nil
	}
	n, err := parseMomNumber(*latest)
	if err != nil {
		return "", err
	}
	return formatMomNumber(n + 1), nil
}

func parseMomNumber(raw string) (uint64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrCorruptMomNumber)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrCorruptMomNumber, raw)
		}
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err == nil && n == math.MaxUint64 {
		err = strconv.ErrRange
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrCorruptMomNumber, raw, err)
	}
	return n, nil
}

func formatMomNumber(n uint64) string {
	return fmt.Sprintf("%0*d", momNumberWidth, n)
}
