// Package window fits prompt material into a character budget, trimming the
// least important blocks first.
package window

import (
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Priority orders blocks for trimming (lower is trimmed first).
type Priority int

const (
	PriorityContext  Priority = 1 // retrieved context, trimmed first
	PrioritySources  Priority = 2
	PriorityAnalysis Priority = 3
	PriorityTask     Priority = 4 // never trimmed
)

// TruncationMarker ends a part that was cut short.
const TruncationMarker = "...[truncated]"

// Block is a labeled group of prompt parts. Parts are ordered by relevance;
// trimming drops them from the tail.
type Block struct {
	Name     string
	Priority Priority
	Parts    []string
	Fixed    bool
}

// Size returns the block's length in bytes.
func (b *Block) Size() int {
	n := 0
	for _, p := range b.Parts {
		n += len(p)
	}
	return n
}

// Fitter trims blocks to a budget.
type Fitter struct {
	budget int
	logger *zap.Logger
}

// NewFitter creates a fitter. A budget <= 0 disables trimming.
func NewFitter(budget int, logger *zap.Logger) *Fitter {
	return &Fitter{budget: budget, logger: logger}
}

// Budget returns the configured budget.
func (f *Fitter) Budget() int { return f.budget }

// Fit trims non-fixed blocks, lowest priority first, until the total fits
// or nothing trimmable remains. It returns the resulting total size.
func (f *Fitter) Fit(blocks ...*Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Size()
	}
	if f.budget <= 0 || total <= f.budget {
		return total
	}

	f.logger.Debug("prompt exceeds budget, trimming",
		zap.Int("total", total),
		zap.Int("budget", f.budget))

	order := make([]*Block, len(blocks))
	copy(order, blocks)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Priority < order[j].Priority })

	for _, b := range order {
		if b.Fixed || total <= f.budget {
			continue
		}
		before := b.Size()
		trim(b, total-f.budget)
		total -= before - b.Size()
	}
	return total
}

// trim drops tail parts while more than one remains, then cuts the last
// part short on a rune boundary.
func trim(b *Block, overflow int) {
	for overflow > 0 && len(b.Parts) > 1 {
		last := b.Parts[len(b.Parts)-1]
		b.Parts = b.Parts[:len(b.Parts)-1]
		overflow -= len(last)
	}
	if overflow <= 0 || len(b.Parts) == 0 {
		return
	}
	p := b.Parts[0]
	keep := len(p) - overflow - len(TruncationMarker)
	for keep > 0 && !utf8.RuneStart(p[keep]) {
		keep--
	}
	if keep <= 0 {
		b.Parts[0] = ""
		return
	}
	b.Parts[0] = p[:keep] + TruncationMarker
}
