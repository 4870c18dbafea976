// Package seed is the Seed Builder of the specification's §4.3: a one-shot
// subsystem that materializes the curated Satoshi/Patoshi block-height list
// into degree-0 seed records in the taint store.
package seed

import (
	"bufio"
	_ "embed"
	"sort"
	"strconv"
	"strings"
)

//go:embed patoshi_heights.csv
var heightsCSV string

// Heights parses the embedded curated height list, in ascending order with
// duplicates removed. The specification's Open Question on seed-list
// provenance ("global mutable module state for seed lists") is resolved by
// keeping this list immutable and passed explicitly to Builder.Run rather
// than read from a package-level var at call sites — see DESIGN.md.
func Heights() ([]int64, error) {
	seen := make(map[int64]struct{})
	out := make([]int64, 0, 22000)

	scanner := bufio.NewScanner(strings.NewReader(heightsCSV))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		h, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
