package threshold

import (
	"reflect"
	"testing"

	"shortssync/internal/domain"
)

func TestComputeFloorMediumChannelUsesMinBound(t *testing.T) {
	c := NewCalculator(10000)
	got := c.ComputeFloor("creator", []int64{1000, 2000, 3000, 4000, 100000})

	if got.SizeClass != domain.SizeMedium {
		t.Fatalf("size class = %s, want medium", got.SizeClass)
	}
	if got.AverageViews != 22000 {
		t.Fatalf("average = %v, want 22000", got.AverageViews)
	}
	if got.MedianViews != 3000 {
		t.Fatalf("median = %d, want 3000", got.MedianViews)
	}
	if got.P75Views != 4000 {
		t.Fatalf("p75 = %d, want 4000", got.P75Views)
	}
	if got.RawThreshold != 2400 {
		t.Fatalf("raw = %d, want 2400", got.RawThreshold)
	}
	if got.AdmissionFloor != 8000 {
		t.Fatalf("floor = %d, want 8000", got.AdmissionFloor)
	}
}

func TestComputeFloorByClass(t *testing.T) {
	cases := []struct {
		name  string
		views []int64
		class domain.SizeClass
		floor int64
	}{
		{"small clamps to min bound", []int64{1000, 2000, 3000}, domain.SizeSmall, 3000},
		{"small above min bound", []int64{10000, 15000, 20000}, domain.SizeSmall, 10500},
		{"medium from median", []int64{30000, 40000, 50000}, domain.SizeMedium, 32000},
		{"large from p75", []int64{100000, 200000, 300000, 400000}, domain.SizeLarge, 280000},
		{"large capped", []int64{1000000, 2000000, 3000000, 4000000}, domain.SizeLarge, MaxFloor},
		{"single sample", []int64{50000}, domain.SizeMedium, 40000},
	}
	c := NewCalculator(0)
	for _, tc := range cases {
		got := c.ComputeFloor("ch", tc.views)
		if got.SizeClass != tc.class {
			t.Errorf("%s: class = %s, want %s", tc.name, got.SizeClass, tc.class)
		}
		if got.AdmissionFloor != tc.floor {
			t.Errorf("%s: floor = %d, want %d", tc.name, got.AdmissionFloor, tc.floor)
		}
		if got.AdmissionFloor < got.MinBound || got.AdmissionFloor > MaxFloor {
			t.Errorf("%s: floor %d outside [%d,%d]", tc.name, got.AdmissionFloor, got.MinBound, MaxFloor)
		}
	}
}

func TestComputeFloorDefaultsWithoutPositiveCounts(t *testing.T) {
	c := NewCalculator(12345)
	for _, views := range [][]int64{nil, {}, {0, -3, 0}} {
		got := c.ComputeFloor("ch", views)
		if !got.Defaulted || got.AdmissionFloor != 12345 {
			t.Fatalf("views=%v: got %+v, want defaulted floor 12345", views, got)
		}
	}
	if got := NewCalculator(0).ComputeFloor("ch", nil); got.AdmissionFloor != DefaultFloor {
		t.Fatalf("zero default floor should fall back to %d, got %d", DefaultFloor, got.AdmissionFloor)
	}
}

func TestComputeFloorIgnoresNonPositiveCounts(t *testing.T) {
	c := NewCalculator(0)
	a := c.ComputeFloor("ch", []int64{0, 1000, -1, 2000, 3000})
	b := c.ComputeFloor("ch", []int64{1000, 2000, 3000})
	if a != b {
		t.Fatalf("zero/negative counts changed result: %+v vs %+v", a, b)
	}
}

func TestComputeFloorIsIdempotentAndDoesNotMutateInput(t *testing.T) {
	c := NewCalculator(0)
	views := []int64{90000, 1000, 50000, 3000, 120000}
	orig := append([]int64(nil), views...)

	first := c.ComputeFloor("ch", views)
	second := c.ComputeFloor("ch", views)
	if first != second {
		t.Fatalf("ComputeFloor not idempotent: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(views, orig) {
		t.Fatalf("input mutated: %v", views)
	}
}

func TestClassify(t *testing.T) {
	if Classify(19999) != domain.SizeSmall {
		t.Fatal("19999 should be small")
	}
	if Classify(20000) != domain.SizeMedium {
		t.Fatal("20000 should be medium")
	}
	if Classify(100000) != domain.SizeLarge {
		t.Fatal("100000 should be large")
	}
}
