package debrief

import "testing"

func TestGradeFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		points int
		want   string
	}{
		{100, "A"}, {90, "A"},
		{89, "B"}, {80, "B"},
		{79, "C"}, {70, "C"},
		{69, "D"}, {60, "D"},
		{59, "F"}, {0, "F"},
	}
	for _, tc := range cases {
		if got := GradeFor(tc.points); got != tc.want {
			t.Errorf("GradeFor(%d) = %q, want %q", tc.points, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()
	if got := Clamp(-20); got != 0 {
		t.Errorf("Clamp(-20) = %d", got)
	}
	if got := Clamp(130); got != 100 {
		t.Errorf("Clamp(130) = %d", got)
	}
	if got := Clamp(85); got != 85 {
		t.Errorf("Clamp(85) = %d", got)
	}
}

func TestPassThresholdMatchesGradeC(t *testing.T) {
	t.Parallel()
	if GradeFor(PassThreshold) != "C" {
		t.Errorf("PassThreshold %d does not sit at the C boundary", PassThreshold)
	}
	if GradeFor(PassThreshold-1) == "C" {
		t.Errorf("points below PassThreshold still grade C")
	}
}
