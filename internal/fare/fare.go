// Package fare computes ride fares. Pure arithmetic, no state; kept out of
// the dispatch path except as a collaborator at ride creation and completion.
package fare

import "math"

const (
	BaseFare  = 2.50
	PerKmRate = 1.20
)

// Estimate returns an estimated fare for a trip. Without geocoded
// coordinates the distance estimate is a crude function of address length;
// a routing engine would replace this upstream.
func Estimate(pickupAddress, destinationAddress string) float64 {
	km := float64(len(destinationAddress) / 20)
	if km < 2 {
		km = 2
	}
	return round2(BaseFare + km*PerKmRate)
}

// Compute returns the fare for a measured distance and duration.
func Compute(distanceKm float64, durationMin float64) float64 {
	const perMinuteRate = 0.25
	return round2(BaseFare + distanceKm*PerKmRate + durationMin*perMinuteRate)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
