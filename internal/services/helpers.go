package services

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// addID returns values with id appended unless already present.
func addID(values []string, id string) ([]string, bool) {
	if id == "" || slices.Contains(values, id) {
		return values, false
	}
	return append(slices.Clone(values), id), true
}

// removeID returns values without id.
func removeID(values []string, id string) ([]string, bool) {
	idx := slices.Index(values, id)
	if idx < 0 {
		return values, false
	}
	return slices.Delete(slices.Clone(values), idx, idx+1), true
}

// wholeMinutes rounds an elapsed duration down to minutes, never below zero.
func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Minutes()))
}

func intPtr(v int) *int {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}
