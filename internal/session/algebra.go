package session

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"srules/internal/interval"
)

// Op names a binary operator of the algebra.
type Op int

const (
	OpUnion Op = iota
	OpDifference
	OpIntersect
)

func (op Op) String() string {
	switch op {
	case OpDifference:
		return "difference"
	case OpIntersect:
		return "intersect"
	default:
		return "union"
	}
}

// ParseOp accepts the operator names and their symbols (+, -, &).
func ParseOp(v string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "union", "+":
		return OpUnion, nil
	case "difference", "-":
		return OpDifference, nil
	case "intersect", "&":
		return OpIntersect, nil
	default:
		return OpUnion, fmt.Errorf("session: unknown operator %q", v)
	}
}

// Combine applies op to left and a dynamically typed right operand. It is
// the entry point for callers holding values of unknown type; right is
// resolved with AsOperand.
func Combine(op Op, left Operand, right any) (*Calculated, error) {
	r, err := AsOperand(right)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpDifference:
		return Difference(left, r), nil
	case OpIntersect:
		return Intersect(left, r), nil
	default:
		return Union(left, r), nil
	}
}

// Union returns every instant covered by a or b as disjoint intervals.
// An empty operand is the identity: the other side is returned as is.
func Union(a, b Operand) *Calculated {
	x, y := occurrencesOf(a), occurrencesOf(b)
	if len(y) == 0 {
		return NewCalculated(x)
	}
	if len(x) == 0 {
		return NewCalculated(y)
	}
	work := make([]interval.Interval, 0, len(x)+len(y))
	work = append(work, x...)
	work = append(work, y...)
	interval.Sort(work)
	return newSorted(coalesce(work))
}

// Intersect returns the instants covered by both a and b. An empty operand
// annihilates.
func Intersect(a, b Operand) *Calculated {
	x, y := occurrencesOf(a), occurrencesOf(b)
	if len(x) == 0 || len(y) == 0 {
		return Empty()
	}
	xs := coalesce(interval.Sorted(x))
	ys := coalesce(interval.Sorted(y))

	var out []interval.Interval
	i, j := 0, 0
	for i < len(xs) && j < len(ys) {
		if ov, ok := interval.Overlap(xs[i], ys[j]); ok {
			out = append(out, ov)
		}
		switch xs[i].End.Compare(ys[j].End) {
		case -1:
			i++
		case 1:
			j++
		default:
			i++
			j++
		}
	}
	return newSorted(out)
}

// Difference returns a minus b. Removing nothing returns a as is; removing
// from nothing returns the empty set.
func Difference(a, b Operand) *Calculated {
	x, y := occurrencesOf(a), occurrencesOf(b)
	if len(y) == 0 {
		return NewCalculated(x)
	}
	if len(x) == 0 {
		return Empty()
	}

	work := make([]rankedInterval, 0, len(x)+len(y))
	for _, iv := range coalesce(interval.Sorted(x)) {
		work = append(work, rankedInterval{iv: iv, origin: kept})
	}
	for _, iv := range coalesce(interval.Sorted(y)) {
		work = append(work, rankedInterval{iv: iv, origin: toRemove})
	}

	limit := len(work)
	for pass := 0; pass <= limit; pass++ {
		sortRanked(work)
		next, cuts := differencePass(work)
		if cuts == 0 {
			out := make([]interval.Interval, 0, len(next))
			for _, ri := range next {
				if ri.origin == kept {
					out = append(out, ri.iv)
				}
			}
			return NewCalculated(out)
		}
		work = next
	}
	panic(fmt.Sprintf("session: difference did not converge after %d passes", limit+1))
}

// coalesce merges overlapping or touching intervals of a start-sorted list
// until a pass performs no merge.
func coalesce(sorted []interval.Interval) []interval.Interval {
	work := sorted
	limit := len(sorted)
	for pass := 0; pass <= limit; pass++ {
		next, merges := unionPass(work)
		if merges == 0 {
			return next
		}
		if len(next) >= len(work) {
			panic(fmt.Sprintf("session: union pass merged %d intervals without shrinking (%d -> %d)",
				merges, len(work), len(next)))
		}
		work = next
	}
	panic(fmt.Sprintf("session: union did not converge after %d passes", limit+1))
}

func unionPass(work []interval.Interval) ([]interval.Interval, int) {
	out := make([]interval.Interval, 0, len(work))
	merges := 0
	for _, iv := range work {
		if n := len(out); n > 0 {
			if m, ok := interval.Merge(out[n-1], iv); ok {
				out[n-1] = m
				merges++
				continue
			}
		}
		out = append(out, iv)
	}
	return out, merges
}

type origin int

const (
	kept origin = iota
	toRemove
)

// rankedInterval is the working copy used by Difference. The origin tag
// lives only here; caller intervals are never touched.
type rankedInterval struct {
	iv     interval.Interval
	origin origin
}

func sortRanked(work []rankedInterval) {
	slices.SortStableFunc(work, func(a, b rankedInterval) int {
		if c := interval.Compare(a.iv, b.iv); c != 0 {
			return c
		}
		return cmp.Compare(a.origin, b.origin)
	})
}

// differencePass sweeps a start-sorted ranked list once. Kept intervals are
// cut by every to-remove interval that started before them, and already
// emitted kept fragments are cut by each to-remove interval as it arrives.
// Kept fragments are disjoint with non-decreasing ends, which bounds the
// backward scan.
func differencePass(work []rankedInterval) ([]rankedInterval, int) {
	out := make([]rankedInterval, 0, len(work))
	var active []interval.Interval
	cuts := 0

	for _, ri := range work {
		active = slices.DeleteFunc(active, func(r interval.Interval) bool {
			return r.End.Before(ri.iv.Start)
		})

		if ri.origin == toRemove {
			for i := len(out) - 1; i >= 0; i-- {
				if out[i].origin != kept {
					continue
				}
				if out[i].iv.End.Before(ri.iv.Start) {
					break
				}
				parts, changed := cut(out[i].iv, ri.iv)
				if !changed {
					continue
				}
				cuts++
				out = slices.Replace(out, i, i+1, rank(parts, kept)...)
			}
			active = append(active, ri.iv)
			out = append(out, ri)
			continue
		}

		frags := []interval.Interval{ri.iv}
		for _, r := range active {
			var next []interval.Interval
			for _, f := range frags {
				parts, changed := cut(f, r)
				if changed {
					cuts++
				}
				next = append(next, parts...)
			}
			frags = next
		}
		out = append(out, rank(frags, kept)...)
	}
	return out, cuts
}

// cut subtracts r from k. changed is false when r leaves k intact, which
// includes the closed-boundary touch.
func cut(k, r interval.Interval) ([]interval.Interval, bool) {
	if _, ok := interval.Overlap(k, r); !ok {
		return []interval.Interval{k}, false
	}
	parts := interval.Difference(k, r)
	if len(parts) == 1 && parts[0].Equal(k) {
		return parts, false
	}
	return parts, true
}

func rank(ivs []interval.Interval, o origin) []rankedInterval {
	out := make([]rankedInterval, len(ivs))
	for i, iv := range ivs {
		out[i] = rankedInterval{iv: iv, origin: o}
	}
	return out
}
