// Package selector turns a pickup location into an ordered candidate list:
// area-local drivers first, then a city-wide fallback, truncated to the
// configured notification fan-out.
package selector

import "github.com/example/ride-dispatch/internal/models"

// Registry is the subset of the driver registry the selector needs.
type Registry interface {
	FindAvailable(city, area string) []string
}

type Selector struct {
	Registry Registry
}

func New(reg Registry) *Selector { return &Selector{Registry: reg} }

// Select returns up to limit candidate driver ids for the pickup location,
// excluding the given ids. Area-local drivers come first; if they don't fill
// the limit, distinct city-wide drivers are appended. An empty result is not
// an error; it means the ride goes unmatched.
func (s *Selector) Select(pickup models.Location, exclude map[string]struct{}, limit int) []string {
	if limit <= 0 {
		return nil
	}

	out := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)

	appendDistinct := func(ids []string) {
		for _, id := range ids {
			if len(out) >= limit {
				return
			}
			if _, ok := exclude[id]; ok {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	if pickup.Area != "" {
		appendDistinct(s.Registry.FindAvailable(pickup.City, pickup.Area))
	}
	if len(out) < limit {
		appendDistinct(s.Registry.FindAvailable(pickup.City, ""))
	}
	return out
}
