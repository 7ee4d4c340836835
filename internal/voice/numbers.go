package voice

import (
	"math"
	"strconv"
)

var smallNumbers = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// parseAmount reads a spoken amount from the start of words. It accepts a
// single digit token ("50", "2.5") or a run of number words where "hundred"
// multiplies what came before ("two hundred fifty"). A trailing "cents"
// divides the value by 100; "dollars" and "bucks" are accepted and ignored.
// The result is rounded to cents.
func parseAmount(words []string) (float64, bool) {
	var (
		value   float64
		found   bool
		isDigit bool
		cents   bool
	)

loop:
	for i, w := range words {
		if n, ok := smallNumbers[w]; ok && !isDigit {
			value += n
			found = true
			continue
		}
		switch w {
		case "hundred":
			if isDigit {
				break loop
			}
			if value == 0 {
				value = 1
			}
			value *= 100
			found = true
		case "a":
			// "a hundred"
			if found || i+1 >= len(words) || words[i+1] != "hundred" {
				break loop
			}
		case "and":
			if !found {
				break loop
			}
		case "cent", "cents":
			cents = found
			break loop
		case "dollar", "dollars", "buck", "bucks":
			break loop
		default:
			if found {
				break loop
			}
			n, err := strconv.ParseFloat(w, 64)
			if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
				return 0, false
			}
			value, found, isDigit = n, true, true
		}
	}

	if !found {
		return 0, false
	}
	if cents {
		value /= 100
	}
	return math.Round(value*100) / 100, true
}
