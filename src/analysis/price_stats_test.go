package analysis

import (
	"math"
	"testing"

	"coinwatch/src/models"
)

func points(closes ...float64) []models.MPricePoint {
	out := make([]models.MPricePoint, len(closes))
	for i, c := range closes {
		out[i] = models.MPricePoint{Timestamp: int64(i), Close: c}
	}
	return out
}

func TestSummarize(t *testing.T) {
	s := Summarize(points(100, 110, 90, 105))
	if s == nil {
		t.Fatal("expected a summary")
	}

	if s.High != 110 || s.Low != 90 {
		t.Errorf("high/low mismatch: %v/%v", s.High, s.Low)
	}
	if s.Points != 4 {
		t.Errorf("expected 4 points, got %d", s.Points)
	}
	if s.Change != 5 {
		t.Errorf("expected change 5, got %v", s.Change)
	}
	if math.Abs(s.ChangePercent-5) > 1e-9 {
		t.Errorf("expected change percent 5, got %v", s.ChangePercent)
	}
	if math.Abs(s.Mean-101.25) > 1e-9 {
		t.Errorf("expected mean 101.25, got %v", s.Mean)
	}
}

func TestSummarize_Empty(t *testing.T) {
	if s := Summarize(nil); s != nil {
		t.Errorf("expected nil summary for empty history, got %+v", s)
	}
}

func TestSummarize_ZeroFirstClose(t *testing.T) {
	s := Summarize(points(0, 10))
	if s == nil {
		t.Fatal("expected a summary")
	}
	// Percent change is undefined from a zero base.
	if s.ChangePercent != 0 {
		t.Errorf("expected zero change percent, got %v", s.ChangePercent)
	}
	if s.Change != 10 {
		t.Errorf("expected absolute change 10, got %v", s.Change)
	}
}

func TestCalculateMeanStd(t *testing.T) {
	mean, std := CalculateMeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 {
		t.Errorf("expected mean 5, got %v", mean)
	}
	if std != 2 {
		t.Errorf("expected std 2, got %v", std)
	}

	mean, std = CalculateMeanStd([]float64{42})
	if mean != 42 || std != 0 {
		t.Errorf("single element: got mean=%v std=%v", mean, std)
	}

	mean, std = CalculateMeanStd(nil)
	if mean != 0 || std != 0 {
		t.Errorf("empty input: got mean=%v std=%v", mean, std)
	}
}
