package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxRange bounds a single A-B range.
const maxRange = 10000

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid schedule id %q", s)
	}
	return id, nil
}

// parseIDs expands "3", "1,2,5" and "4-7" tokens into distinct ids in
// the order given.
func parseIDs(args []string) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, arg := range args {
		for tok := range strings.SplitSeq(arg, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			lo, hi, isRange := strings.Cut(tok, "-")
			if !isRange {
				id, err := parseID(tok)
				if err != nil {
					return nil, err
				}
				add(id)
				continue
			}

			from, err := parseID(lo)
			if err != nil {
				return nil, fmt.Errorf("invalid range %q", tok)
			}
			to, err := parseID(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid range %q", tok)
			}
			if from > to {
				return nil, fmt.Errorf("invalid range %q: start is after end", tok)
			}
			if to-from >= maxRange {
				return nil, fmt.Errorf("range %q is too large (max %d ids)", tok, maxRange)
			}
			for id := from; id <= to; id++ {
				add(id)
			}
		}
	}
	return ids, nil
}

// parseParams turns repeated key=value flags into a params map. Values that
// parse as JSON (numbers, booleans, arrays, objects) keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}
