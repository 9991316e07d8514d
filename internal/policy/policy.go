// Package policy parses exit-code policies such as "0,2-4,7" into the set
// of exit codes that count as success.
package policy

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/jmgilman/go/errors"
)

// CodeInvalidPolicy identifies malformed exit-code policies.
const CodeInvalidPolicy errors.ErrorCode = "INVALID_POLICY"

// Range is an inclusive span of exit codes.
type Range struct {
	Lo, Hi int
}

// Set is an immutable set of accepted exit codes, held as sorted,
// non-overlapping, non-adjacent ranges.
type Set struct {
	ranges []Range
}

// Default returns the policy used when none is given: only 0 succeeds.
func Default() Set {
	return Set{ranges: []Range{{0, 0}}}
}

// Parse builds a Set from a comma-separated list of codes and inclusive
// ranges. Blank input yields Default. Numeric format errors are reported
// before sign and ordering errors.
func Parse(input string) (Set, error) {
	if strings.TrimSpace(input) == "" {
		return Default(), nil
	}

	var ranges []Range
	for _, raw := range strings.Split(input, ",") {
		part := strings.TrimSpace(raw)

		start, end, isRange := strings.Cut(part, "-")
		if !isRange {
			n, err := parseCode(part)
			if err != nil {
				return Set{}, err
			}
			ranges = append(ranges, Range{n, n})
			continue
		}

		lo, err := parseCode(strings.TrimSpace(start))
		if err != nil {
			return Set{}, errors.Wrapf(err, CodeInvalidPolicy, "invalid range %q", part)
		}
		hi, err := parseCode(strings.TrimSpace(end))
		if err != nil {
			return Set{}, errors.Wrapf(err, CodeInvalidPolicy, "invalid range %q", part)
		}
		if lo > hi {
			return Set{}, errors.Newf(CodeInvalidPolicy, "invalid range %q: start %d is greater than end %d", part, lo, hi)
		}
		ranges = append(ranges, Range{lo, hi})
	}
	return Set{ranges: merge(ranges)}, nil
}

// merge sorts ranges and joins the overlapping and adjacent ones.
func merge(ranges []Range) []Range {
	slices.SortFunc(ranges, func(a, b Range) int { return cmp.Compare(a.Lo, b.Lo) })

	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		// last.Hi+1 would overflow at math.MaxInt.
		if r.Lo <= last.Hi || r.Lo-1 == last.Hi {
			last.Hi = max(last.Hi, r.Hi)
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseCode parses a single non-negative exit code. strconv rejects empty
// and non-numeric input instead of coercing it to zero.
func parseCode(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Newf(CodeInvalidPolicy, "invalid exit code %q", s)
	}
	if n < 0 {
		return 0, errors.Newf(CodeInvalidPolicy, "exit code %q must not be negative", s)
	}
	return n, nil
}

// Contains reports whether code is accepted.
func (s Set) Contains(code int) bool {
	if s.ranges == nil {
		return code == 0
	}
	i, found := slices.BinarySearchFunc(s.ranges, code, func(r Range, c int) int {
		return cmp.Compare(r.Lo, c)
	})
	if found {
		return true
	}
	return i > 0 && code <= s.ranges[i-1].Hi
}

// Ranges returns the accepted codes as sorted, disjoint ranges.
func (s Set) Ranges() []Range {
	if s.ranges == nil {
		return []Range{{0, 0}}
	}
	return slices.Clone(s.ranges)
}

// String renders the set in the compact form accepted by Parse.
func (s Set) String() string {
	var parts []string
	for _, r := range s.Ranges() {
		if r.Hi > r.Lo {
			parts = append(parts, strconv.Itoa(r.Lo)+"-"+strconv.Itoa(r.Hi))
		} else {
			parts = append(parts, strconv.Itoa(r.Lo))
		}
	}
	return strings.Join(parts, ",")
}
