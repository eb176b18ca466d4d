package kneedle

import "testing"

func TestFindDetectsSharpKnee(t *testing.T) {
	values := []float64{10, 9.5, 9, 8.5, 2, 1.8, 1.6, 1.4, 1.2, 1.0}
	idx, ok := Find(values, 1.0)
	if !ok {
		t.Fatalf("expected a knee to be found")
	}
	if idx < 2 || idx > 5 {
		t.Fatalf("knee index %d out of expected range", idx)
	}
}

// TestFindScenario6PlateauThenCliff reproduces the high-plateau/sharp-drop/
// low-tail ranking curve, where the knee must land on the last pre-drop
// point (index 3) so a caller keeping values[:idx+1] retains exactly the 4
// plateau entries.
func TestFindScenario6PlateauThenCliff(t *testing.T) {
	values := []float64{0.95, 0.92, 0.88, 0.85, 0.6, 0.55, 0.50, 0.45, 0.40, 0.35}
	idx, ok := Find(values, 1.0)
	if !ok {
		t.Fatalf("expected a knee to be found")
	}
	if idx != 3 {
		t.Fatalf("knee index = %d, want 3", idx)
	}
}

func TestFindNoKneeOnLinearTail(t *testing.T) {
	values := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	if _, ok := Find(values, 1.0); ok {
		t.Fatalf("expected no knee on a linear sequence")
	}
}

func TestFindTooShort(t *testing.T) {
	if _, ok := Find([]float64{1, 2}, 1.0); ok {
		t.Fatalf("expected false for sequences shorter than 3")
	}
}

func TestFindFlatSequence(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5}
	if _, ok := Find(values, 1.0); ok {
		t.Fatalf("expected false for a flat sequence")
	}
}
