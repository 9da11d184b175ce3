package state

import (
	"math"
	"strconv"
	"strings"
)

const (
	MaxSkillLevel = 7
	// LavishLevel is the skill level from which the lavish workspace talent can be taken.
	LavishLevel = 6
)

// ParsePrice coerces user input to a price. A comma is accepted as decimal
// separator; anything unparseable (or not finite) becomes 0.
func ParsePrice(s string) float64 {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		v, err = strconv.ParseFloat(leadingNumber(s), 64)
		if err != nil {
			return 0
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ParseSkillLevel coerces user input to a level in [0, MaxSkillLevel].
func ParseSkillLevel(s string) int {
	v, err := strconv.Atoi(leadingInteger(strings.TrimSpace(s)))
	if err != nil {
		return 0
	}
	return NormalizeLevel(v)
}

// NormalizeLevel clamps a level. Two-digit values keep their last digit: a
// digit typed into an already filled level field replaces the old one.
func NormalizeLevel(v int) int {
	if v < 0 {
		return 0
	}
	if v >= 10 {
		v %= 10
	}
	if v > MaxSkillLevel {
		v = MaxSkillLevel
	}
	return v
}

func leadingInteger(s string) string {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return ""
	}
	return s[:end]
}

func leadingNumber(s string) string {
	n := leadingInteger(s)
	if n == "" || len(n) == len(s) || s[len(n)] != '.' {
		return n
	}
	end := len(n) + 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
