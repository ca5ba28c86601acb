package registry

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSetBusyExcludesSecondRide(t *testing.T) {
	r := New()
	r.UpdateLocation("d1", "Lagos", "Victoria Island", true)

	if err := r.SetBusy("d1", "ride1"); err != nil {
		t.Fatalf("first SetBusy failed: %v", err)
	}
	if err := r.SetBusy("d1", "ride2"); !errors.Is(err, ErrAlreadyBusy) {
		t.Fatalf("expected ErrAlreadyBusy, got %v", err)
	}

	d, err := r.Get("d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.BusyRideID != "ride1" || d.Available {
		t.Fatalf("unexpected record after double SetBusy: %+v", d)
	}
}

func TestSetBusyUnavailableDriver(t *testing.T) {
	r := New()
	r.UpdateLocation("d1", "Lagos", "Ikeja", false)
	if err := r.SetBusy("d1", "ride1"); !errors.Is(err, ErrAlreadyBusy) {
		t.Fatalf("expected ErrAlreadyBusy for offline driver, got %v", err)
	}
	if err := r.SetBusy("unknown", "ride1"); !errors.Is(err, ErrAlreadyBusy) {
		t.Fatalf("expected ErrAlreadyBusy for unknown driver, got %v", err)
	}
}

func TestReleaseRestoresLastKnownFlag(t *testing.T) {
	r := New()
	r.UpdateLocation("d1", "Lagos", "Ikeja", true)
	if err := r.SetBusy("d1", "ride1"); err != nil {
		t.Fatal(err)
	}

	// Driver goes offline mid-ride; release must leave it unavailable.
	r.UpdateLocation("d1", "Lagos", "Ikeja", false)
	r.Release("d1")
	d, _ := r.Get("d1")
	if d.Available || d.BusyRideID != "" {
		t.Fatalf("expected unavailable unbound driver, got %+v", d)
	}

	// Back online while busy: release restores availability.
	r.UpdateLocation("d1", "Lagos", "Ikeja", true)
	if err := r.SetBusy("d1", "ride2"); err != nil {
		t.Fatal(err)
	}
	r.UpdateLocation("d1", "Lagos", "Ikeja", true)
	r.Release("d1")
	d, _ = r.Get("d1")
	if !d.Available {
		t.Fatalf("expected available driver after release, got %+v", d)
	}
}

func TestReleaseUnboundIsNoop(t *testing.T) {
	r := New()
	r.Release("nobody")
	r.UpdateLocation("d1", "Lagos", "Ikeja", true)
	r.Release("d1")
	d, _ := r.Get("d1")
	if !d.Available {
		t.Fatalf("release of unbound driver changed availability: %+v", d)
	}
}

func TestFindAvailableOrderingAndFilters(t *testing.T) {
	r := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time { return clock }

	clock = base
	r.UpdateLocation("d2", "Lagos", "Victoria Island", true)
	clock = base.Add(-time.Minute) // d1 updated earlier, should come first
	r.UpdateLocation("d1", "Lagos", "Victoria Island", true)
	clock = base.Add(time.Minute)
	r.UpdateLocation("d3", "Lagos", "Ikeja", true)
	r.UpdateLocation("d4", "Abuja", "Wuse", true)
	r.UpdateLocation("d5", "Lagos", "Ikeja", false)

	got := r.FindAvailable("Lagos", "Victoria Island")
	if len(got) != 2 || got[0] != "d1" || got[1] != "d2" {
		t.Fatalf("area lookup = %v, want [d1 d2]", got)
	}

	got = r.FindAvailable("Lagos", "")
	if len(got) != 3 || got[0] != "d1" || got[1] != "d2" || got[2] != "d3" {
		t.Fatalf("city lookup = %v, want [d1 d2 d3]", got)
	}

	if err := r.SetBusy("d1", "ride1"); err != nil {
		t.Fatal(err)
	}
	got = r.FindAvailable("Lagos", "Victoria Island")
	if len(got) != 1 || got[0] != "d2" {
		t.Fatalf("area lookup after SetBusy = %v, want [d2]", got)
	}
}

func TestSetBusyConcurrent(t *testing.T) {
	r := New()
	r.UpdateLocation("d1", "Lagos", "Ikeja", true)

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan int, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if r.SetBusy("d1", "ride") == nil {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful SetBusy, got %d", count)
	}
}
