// Package partrange parses and renders compact part-number range
// expressions such as "1-5,7,9-12".
package partrange

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/datalift/partstream/internal/xferr"
)

// Expand parses a range expression into a sorted, de-duplicated list of
// part numbers. Reversed ranges ("5-3") are normalized. Part numbers
// must be >= 1.
func Expand(expr string) ([]int, error) {
	seen := make(map[int]struct{})
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if a, b, ok := strings.Cut(tok, "-"); ok {
			lo, err := parsePart(a)
			if err != nil {
				return nil, err
			}
			hi, err := parsePart(b)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			for pn := lo; pn <= hi; pn++ {
				seen[pn] = struct{}{}
			}
		} else {
			pn, err := parsePart(tok)
			if err != nil {
				return nil, err
			}
			seen[pn] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, xferr.New(xferr.KindInvalidInput, "no valid part numbers in %q", expr)
	}
	out := make([]int, 0, len(seen))
	for pn := range seen {
		out = append(out, pn)
	}
	sort.Ints(out)
	return out, nil
}

// Compact renders part numbers as the shortest range expression,
// collapsing consecutive runs. The input need not be sorted.
func Compact(parts []int) string {
	if len(parts) == 0 {
		return ""
	}
	sorted := make([]int, len(parts))
	copy(sorted, parts)
	sort.Ints(sorted)

	var b strings.Builder
	start, end := sorted[0], sorted[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == end {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, end)
		}
	}
	for _, pn := range sorted[1:] {
		if pn == end || pn == end+1 {
			end = pn
			continue
		}
		flush()
		start, end = pn, pn
	}
	flush()
	return b.String()
}

func parsePart(s string) (int, error) {
	pn, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, xferr.Wrap(xferr.KindInvalidInput, err, "bad part number %q", s)
	}
	if pn < 1 {
		return 0, xferr.New(xferr.KindInvalidInput, "part number %d out of range", pn)
	}
	return pn, nil
}
