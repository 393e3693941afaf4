package weather

import (
	"context"
	"time"
)

// Feed supplies one forecast bundle per cycle. A nil snapshot (or an error)
// means the cycle proceeds without weather.
type Feed interface {
	Forecast(ctx context.Context) (*Snapshot, error)
}

// Confidence tiers forecast certainty from ensemble spread.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"   // std dev < 2°F
	ConfidenceMedium Confidence = "medium" // std dev < 4°F, or no ensemble
	ConfidenceLow    Confidence = "low"
)

// HourlyPoint is one step of today's deterministic temperature trajectory.
type HourlyPoint struct {
	Time         time.Time
	TemperatureF float64
}

// Ensemble summarizes forecast-model disagreement over today's high.
type Ensemble struct {
	MemberCount int
	MeanHigh    float64
	MinHigh     float64
	MaxHigh     float64
	StdDev      float64
	P10         float64
	P25         float64
	P75         float64
	P90         float64
}

// Bucket is one 2°F slice of the ensemble high distribution.
type Bucket struct {
	Label       string
	Lower       float64
	Upper       float64
	Probability float64
}

// Snapshot is one forecast cycle for one location.
type Snapshot struct {
	City             string
	CurrentTempF     float64
	NWSForecastHigh  *float64
	NWSForecastLow   *float64
	NWSShortForecast string
	ForecastHigh     float64 // Open-Meteo deterministic daily high
	Hourly           []HourlyPoint
	Ensemble         *Ensemble
	Buckets          []Bucket
	MemberHighs      []float64
	Confidence       Confidence
}

// confidenceFor derives the tier from ensemble spread; confidence is never
// asserted independently of it.
func confidenceFor(ens *Ensemble) Confidence {
	switch {
	case ens == nil:
		return ConfidenceMedium
	case ens.StdDev < 2.0:
		return ConfidenceHigh
	case ens.StdDev < 4.0:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
