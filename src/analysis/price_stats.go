package analysis

import (
	"math"

	"coinwatch/src/models"
)

// -----------------------------------------------------------------------------
// Price History Statistics
// -----------------------------------------------------------------------------

// MPriceSummary condenses a recent price history into the figures the detail
// endpoint serves alongside the raw points.
type MPriceSummary struct {
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Points        int     `json:"points"`
}

// -----------------------------------------------------------------------------

// Summarize computes summary statistics over the close prices of history,
// oldest first. Returns nil for an empty history.
func Summarize(history []models.MPricePoint) *MPriceSummary {
	if len(history) == 0 {
		return nil
	}

	closes := make([]float64, len(history))
	for i, p := range history {
		closes[i] = p.Close
	}

	mean, std := CalculateMeanStd(closes)

	summary := &MPriceSummary{
		High:   closes[0],
		Low:    closes[0],
		Mean:   mean,
		StdDev: std,
		Points: len(closes),
	}
	for _, v := range closes {
		if v > summary.High {
			summary.High = v
		}
		if v < summary.Low {
			summary.Low = v
		}
	}

	first, last := closes[0], closes[len(closes)-1]
	summary.Change = last - first
	if first != 0 {
		summary.ChangePercent = (last - first) / first * 100
	}

	return summary
}

// -----------------------------------------------------------------------------

// CalculateMeanStd computes mean and population standard deviation.
func CalculateMeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))

	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	std := math.Sqrt(varianceSum / float64(len(data)))
	return mean, std
}
