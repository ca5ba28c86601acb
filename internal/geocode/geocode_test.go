package geocode

import "testing"

func TestAddressSplitter(t *testing.T) {
	cases := []struct {
		address string
		city    string
		area    string
	}{
		{"1 Adeola Odeku, Victoria Island, Lagos", "Lagos", "1 Adeola Odeku"},
		{"Allen Avenue, Ikeja", "Ikeja", "Allen Avenue"},
		{"  Lekki Phase 1 ,  Lagos  ", "Lagos", "Lekki Phase 1"},
		{"just a street name", "Lagos", "Downtown"},
		{"", "Lagos", "Downtown"},
		{",", "Lagos", "Downtown"},
	}
	var g AddressSplitter
	for _, tc := range cases {
		city, area := g.Geocode(tc.address)
		if city != tc.city || area != tc.area {
			t.Errorf("Geocode(%q) = (%q, %q), want (%q, %q)", tc.address, city, area, tc.city, tc.area)
		}
	}
}
