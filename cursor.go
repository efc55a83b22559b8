package bgmigration

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cursor is a position in the key space of a table: one value for a single-column cursor,
// two values (outer, inner) for a composite cursor. Cursors compare lexicographically.
type Cursor []int64

// Compare returns -1, 0 or 1. Missing trailing values compare as smaller.
func (c Cursor) Compare(o Cursor) int {
	n := len(c)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		switch {
		case c[i] < o[i]:
			return -1
		case c[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(c) < len(o):
		return -1
	case len(c) > len(o):
		return 1
	}
	return 0
}

func (c Cursor) Equal(o Cursor) bool {
	return c.Compare(o) == 0
}

func (c Cursor) String() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.FormatInt(v, 10)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseCursor parses "42" or "5,100"
func ParseCursor(s string) (Cursor, error) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	if s == "" {
		return nil, fmt.Errorf("empty cursor")
	}
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return nil, fmt.Errorf("cursor %q has more than two values", s)
	}
	c := make(Cursor, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor value %q: %w", p, err)
		}
		c[i] = v
	}
	return c, nil
}

// Range is an inclusive slice [Start, End] of the key space
type Range struct {
	Start Cursor `json:"start"`
	End   Cursor `json:"end"`
}

func (r Range) String() string {
	return fmt.Sprintf("[%v..%v]", r.Start, r.End)
}

// Contains reports whether c lies within the range
func (r Range) Contains(c Cursor) bool {
	return r.Start.Compare(c) <= 0 && c.Compare(r.End) <= 0
}

// Span estimates the number of rows spanned by the range from the cursor distance.
// An unbounded composite range reports math.MaxInt64.
func (r Range) Span() int64 {
	if len(r.Start) == 0 {
		return 0
	}
	last := len(r.Start) - 1
	if last > 0 && r.Start[0] != r.End[0] {
		return math.MaxInt64
	}
	return safeDistance(r.Start[last], r.End[last])
}

func safeDistance(lo, hi int64) int64 {
	if hi < lo {
		return 0
	}
	if lo < 0 && hi > math.MaxInt64+lo {
		return math.MaxInt64
	}
	d := hi - lo
	if d == math.MaxInt64 {
		return d
	}
	return d + 1
}

// innerBounds returns the inner column bounds of a composite cursor
func (d *JobDescriptor) innerBounds() (lo, hi int64, bounded bool) {
	if d.InnerMin == 0 && d.InnerMax == 0 {
		return math.MinInt64, math.MaxInt64, false
	}
	return d.InnerMin, d.InnerMax, true
}

// Successor returns the smallest cursor strictly greater than c for the descriptor's key space.
// The boolean is false when c is the last cursor of the key space.
func (d *JobDescriptor) Successor(c Cursor) (Cursor, bool) {
	if len(c) == 1 {
		if c[0] == math.MaxInt64 {
			return nil, false
		}
		return Cursor{c[0] + 1}, true
	}
	innerMin, innerMax, _ := d.innerBounds()
	if c[1] >= innerMax {
		if c[0] == math.MaxInt64 {
			return nil, false
		}
		return Cursor{c[0] + 1, innerMin}, true
	}
	return Cursor{c[0], c[1] + 1}, true
}

// NextRange computes the next sub-range of [lower, upper] holding at most batchSize keys.
// It returns nil once lower is past upper. The result only depends on its arguments.
func NextRange(desc *JobDescriptor, lower, upper Cursor, batchSize int) *Range {
	if batchSize <= 0 || len(lower) == 0 || len(upper) == 0 || lower.Compare(upper) > 0 {
		return nil
	}
	step := int64(batchSize) - 1
	if len(lower) == 1 {
		end := upper[0]
		if lower[0] <= math.MaxInt64-step && lower[0]+step < end {
			end = lower[0] + step
		}
		return &Range{Start: Cursor{lower[0]}, End: Cursor{end}}
	}

	innerMin, innerMax, bounded := desc.innerBounds()
	rowEnd := innerMax
	if lower[0] == upper[0] {
		rowEnd = upper[1]
	}
	end := rowEnd
	finite := bounded || (lower[1] != math.MinInt64 && rowEnd != math.MaxInt64)
	if finite && lower[1] <= math.MaxInt64-step && lower[1]+step < rowEnd {
		end = lower[1] + step
	}
	start := lower[1]
	if start < innerMin {
		start = innerMin
	}
	if end < start {
		end = start
	}
	return &Range{Start: Cursor{lower[0], start}, End: Cursor{lower[0], end}}
}

// Ranges enumerates all ranges covering [lower, upper] in order
func Ranges(desc *JobDescriptor, lower, upper Cursor, batchSize int) []Range {
	var ranges []Range
	for {
		r := NextRange(desc, lower, upper, batchSize)
		if r == nil {
			return ranges
		}
		ranges = append(ranges, *r)
		next, ok := desc.Successor(r.End)
		if !ok {
			return ranges
		}
		lower = next
	}
}
