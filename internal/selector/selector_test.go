package selector

import (
	"reflect"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeRegistry returns canned candidate lists keyed by area.
type fakeRegistry struct {
	byArea map[string][]string
}

func (f *fakeRegistry) FindAvailable(city, area string) []string {
	return f.byArea[area]
}

func pickup(city, area string) models.Location {
	return models.Location{City: city, Area: area}
}

func TestSelectAreaLocalFirst(t *testing.T) {
	reg := &fakeRegistry{byArea: map[string][]string{
		"Victoria Island": {"d1", "d2"},
		"":                {"d3", "d1", "d2"},
	}}
	s := New(reg)

	got := s.Select(pickup("Lagos", "Victoria Island"), nil, 3)
	want := []string{"d1", "d2", "d3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Select = %v, want %v", got, want)
	}
}

func TestSelectTruncatesToLimit(t *testing.T) {
	reg := &fakeRegistry{byArea: map[string][]string{
		"Ikeja": {"d1", "d2", "d3", "d4"},
	}}
	s := New(reg)
	got := s.Select(pickup("Lagos", "Ikeja"), nil, 2)
	if !reflect.DeepEqual(got, []string{"d1", "d2"}) {
		t.Fatalf("Select = %v, want [d1 d2]", got)
	}
}

func TestSelectExcludesTriedDrivers(t *testing.T) {
	reg := &fakeRegistry{byArea: map[string][]string{
		"Ikeja": {"d1", "d2"},
		"":      {"d1", "d2", "d3"},
	}}
	s := New(reg)
	exclude := map[string]struct{}{"d1": {}}
	got := s.Select(pickup("Lagos", "Ikeja"), exclude, 3)
	if !reflect.DeepEqual(got, []string{"d2", "d3"}) {
		t.Fatalf("Select = %v, want [d2 d3]", got)
	}
}

func TestSelectCityWideWhenNoArea(t *testing.T) {
	reg := &fakeRegistry{byArea: map[string][]string{
		"": {"d1", "d2"},
	}}
	s := New(reg)
	got := s.Select(pickup("Lagos", ""), nil, 3)
	if !reflect.DeepEqual(got, []string{"d1", "d2"}) {
		t.Fatalf("Select = %v, want [d1 d2]", got)
	}
}

func TestSelectEmptyIsNotAnError(t *testing.T) {
	s := New(&fakeRegistry{byArea: map[string][]string{}})
	if got := s.Select(pickup("Lagos", "Ikeja"), nil, 3); len(got) != 0 {
		t.Fatalf("expected empty selection, got %v", got)
	}
	if got := s.Select(pickup("Lagos", "Ikeja"), nil, 0); got != nil {
		t.Fatalf("expected nil for zero limit, got %v", got)
	}
}
