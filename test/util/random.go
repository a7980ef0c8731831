package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"unicode"
)

// RandomSwitch returns a function that will output various integers at different weights.
//
// Ex. RandomSwitch(2, 3, 5) will return a function that will output:
//   - `0` 20% of the time
//   - `1` 30% of the time
//   - `2` 50% of the time
func RandomSwitch(weights ...int) func(rndm *rand.Rand) int {
	if len(weights) == 0 {
		panic("a random switch must have at least 1 weight")
	}

	var sum int
	for _, w := range weights {
		if w <= 0 {
			panic(fmt.Sprintf("weights must be positive, got %d", w))
		}
		sum += w
	}

	return func(rndm *rand.Rand) int {
		value := rndm.Intn(sum)
		threshold := 0
		for i, w := range weights {
			threshold += w
			if value < threshold {
				return i
			}
		}
		panic(fmt.Sprintf("random value generated was out of bounds: %d", value))
	}
}

// RandomPick returns a random element of options, which must not be empty.
func RandomPick[T any](rndm *rand.Rand, options []T) T {
	return options[rndm.Intn(len(options))]
}

// RandomPrice returns a price in [lo, hi] rounded to cents.
func RandomPrice(rndm *rand.Rand, lo, hi float64) float64 {
	return math.Round((lo+rndm.Float64()*(hi-lo))*100) / 100
}

// RandomCase flips the case of each letter in s with a 50% chance.
func RandomCase(rndm *rand.Rand, s string) string {
	var out strings.Builder
	for _, r := range s {
		if rndm.Intn(2) == 0 {
			out.WriteRune(unicode.ToUpper(r))
			continue
		}
		out.WriteRune(unicode.ToLower(r))
	}
	return out.String()
}
