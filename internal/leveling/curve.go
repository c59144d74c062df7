// Package leveling maps cumulative XP onto discrete levels using an ascending
// threshold table.
package leveling

import (
	"fmt"
	"sort"
)

// DefaultThresholds is the XP needed to reach each level; index is the level.
var DefaultThresholds = []int{0, 100, 250, 450, 700, 1000, 1400, 1900, 2500, 3200, 4000, 5000}

// Curve is an immutable level table. T[0] is always 0.
type Curve struct {
	thresholds []int
}

// Progress describes where an XP total sits inside its level.
type Progress struct {
	Level       int     `json:"level"`
	XPIntoLevel int     `json:"xpIntoLevel"`
	XPToNext    int     `json:"xpToNext"`
	Fraction    float64 `json:"fractionComplete"`
}

// NewCurve validates the table and returns a Curve.
func NewCurve(thresholds []int) (*Curve, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("threshold table is empty")
	}
	if thresholds[0] != 0 {
		return nil, fmt.Errorf("first threshold must be 0, got %d", thresholds[0])
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("thresholds must be strictly ascending at index %d", i)
		}
	}
	return &Curve{thresholds: append([]int(nil), thresholds...)}, nil
}

// Default returns the curve built from DefaultThresholds.
func Default() *Curve {
	c, _ := NewCurve(DefaultThresholds)
	return c
}

// LevelFor returns the highest level whose threshold is <= xp.
func (c *Curve) LevelFor(xp int) int {
	if xp <= 0 {
		return 0
	}
	// First index with threshold > xp, minus one.
	return sort.Search(len(c.thresholds), func(i int) bool { return c.thresholds[i] > xp }) - 1
}

// MaxLevel is the last reachable level.
func (c *Curve) MaxLevel() int {
	return len(c.thresholds) - 1
}

// Threshold returns the XP required for level, clamped to the table.
func (c *Curve) Threshold(level int) int {
	if level <= 0 {
		return 0
	}
	if level > c.MaxLevel() {
		level = c.MaxLevel()
	}
	return c.thresholds[level]
}

// Progress computes level progress for xp. At the top of the table the remaining XP
// is 0 and the fraction is 1.
func (c *Curve) Progress(xp int) Progress {
	if xp < 0 {
		xp = 0
	}
	level := c.LevelFor(xp)
	base := c.thresholds[level]
	if level == c.MaxLevel() {
		return Progress{Level: level, XPIntoLevel: xp - base, XPToNext: 0, Fraction: 1}
	}

	span := c.thresholds[level+1] - base
	into := xp - base
	return Progress{
		Level:       level,
		XPIntoLevel: into,
		XPToNext:    c.thresholds[level+1] - xp,
		Fraction:    float64(into) / float64(span),
	}
}
