package fare

import "testing"

func TestEstimate(t *testing.T) {
	short := Estimate("1 Adeola Odeku, Lagos", "Ikeja")
	if short != 4.90 { // 2km floor
		t.Fatalf("short trip estimate = %v, want 4.90", short)
	}

	long := Estimate("1 Adeola Odeku, Lagos", "Plot 1415 Adetokunbo Ademola Street, Victoria Island Annex, Lagos")
	if long <= short {
		t.Fatalf("longer destination should cost more: %v <= %v", long, short)
	}
}

func TestCompute(t *testing.T) {
	got := Compute(10, 20)
	want := 19.50 // 2.50 + 10*1.20 + 20*0.25
	if got != want {
		t.Fatalf("Compute(10, 20) = %v, want %v", got, want)
	}
	if min := Compute(0, 0); min != BaseFare {
		t.Fatalf("zero trip should cost the base fare, got %v", min)
	}
}
