// Package geocode resolves a free-text address to a (city, area) pair. Real
// geocoding lives in another service; this is the narrow interface the
// engine consumes plus the address-splitting default.
package geocode

import "strings"

const (
	fallbackCity = "Lagos"
	fallbackArea = "Downtown"
)

type Geocoder interface {
	Geocode(address string) (city, area string)
}

// AddressSplitter parses "area, ..., city" addresses. Anything it cannot
// parse falls back to the default city and area.
type AddressSplitter struct{}

func (AddressSplitter) Geocode(address string) (city, area string) {
	parts := strings.Split(address, ",")
	if len(parts) >= 2 {
		area = strings.TrimSpace(parts[0])
		city = strings.TrimSpace(parts[len(parts)-1])
	}
	if area == "" {
		area = fallbackArea
	}
	if city == "" {
		city = fallbackCity
	}
	return city, area
}
