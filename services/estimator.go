package services

import (
	"math"
	"sort"

	"ancer-engine/config"
	"ancer-engine/models"
)

// Estimator turns a comparable set into a valuation. It is pure: the same
// set and target always give the same result.
type Estimator struct {
	cfg config.EstimatorConfig
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg config.EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

type observation struct {
	price      float64
	weight     float64
	similarity float64
}

// Estimate returns the weighted estimate of the set. The boolean is false
// when no usable comparable is left after outlier trimming.
func (e *Estimator) Estimate(set models.ComparableSet, t models.ValuationTarget) (models.Valuation, bool) {
	obs := make([]observation, 0, len(set))
	for _, c := range set {
		price := e.normalise(c, t)
		if price <= 0 {
			continue
		}
		obs = append(obs, observation{price: price, weight: c.Weight(), similarity: c.Similarity})
	}
	obs = e.trim(obs)
	if len(obs) == 0 {
		return models.Valuation{}, false
	}

	var wsum float64
	for _, o := range obs {
		wsum += o.weight
	}
	if wsum <= 0 || math.IsNaN(wsum) {
		for i := range obs {
			obs[i].weight = 1
		}
		wsum = float64(len(obs))
	}

	var mean float64
	for _, o := range obs {
		mean += o.weight * o.price
	}
	mean /= wsum

	var std float64
	if len(obs) == 1 {
		std = e.cfg.SingleStdFraction * mean
	} else {
		var variance float64
		for _, o := range obs {
			d := o.price - mean
			variance += o.weight * d * d
		}
		std = math.Sqrt(variance / wsum)
	}

	var simSum float64
	for _, o := range obs {
		simSum += o.similarity
	}
	avgSim := simSum / float64(len(obs))

	cv := 0.0
	if mean > 0 {
		cv = std / mean
	}
	volume := math.Min(float64(len(obs))/float64(e.cfg.SaturationCount), 1)
	confidence := clamp01(volume * avgSim / (1 + cv))

	low := math.Max(0, mean-std)
	return models.Valuation{
		EstimateKobo:    roundKobo(mean),
		LowKobo:         roundKobo(low),
		HighKobo:        roundKobo(mean + std),
		Confidence:      confidence,
		ComparableCount: len(obs),
	}, true
}

// normalise scales a comparable's price to the target's floor area when
// both areas are known; otherwise the raw price is used.
func (e *Estimator) normalise(c models.Comparable, t models.ValuationTarget) float64 {
	price := float64(c.PriceKobo)
	if t.FloorAreaSqm != nil && *t.FloorAreaSqm > 0 && c.FloorAreaSqm != nil && *c.FloorAreaSqm > 0 {
		return price / *c.FloorAreaSqm * *t.FloorAreaSqm
	}
	return price
}

// trim drops observations outside [TrimLow, TrimHigh] times the median.
func (e *Estimator) trim(obs []observation) []observation {
	if len(obs) == 0 {
		return obs
	}
	med := median(obs)
	lo, hi := med*e.cfg.TrimLow, med*e.cfg.TrimHigh
	kept := obs[:0]
	for _, o := range obs {
		if o.price >= lo && o.price <= hi {
			kept = append(kept, o)
		}
	}
	return kept
}

func median(obs []observation) float64 {
	prices := make([]float64, len(obs))
	for i, o := range obs {
		prices[i] = o.price
	}
	sort.Float64s(prices)
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}

func roundKobo(f float64) int64 {
	return int64(math.Round(f))
}
