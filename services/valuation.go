package services

import (
	"context"
	"fmt"

	"ancer-engine/models"
)

// Appraisal is a valuation together with the evidence behind it.
type Appraisal struct {
	Property    *models.Property
	Comparables models.ComparableSet
	Valuation   models.Valuation
	// OK is false when no estimate could be produced.
	OK bool
}

// Valuer ties comparable selection to estimation for a single property.
type Valuer struct {
	selector  *Selector
	estimator *Estimator
}

// NewValuer creates a Valuer.
func NewValuer(selector *Selector, estimator *Estimator) *Valuer {
	return &Valuer{selector: selector, estimator: estimator}
}

// Appraise values p without writing anything.
func (v *Valuer) Appraise(ctx context.Context, p *models.Property) (*Appraisal, error) {
	target := models.TargetFromProperty(p)
	set, err := v.selector.Select(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("valuation: property %d: %w", p.ID, err)
	}
	val, ok := v.estimator.Estimate(set, target)
	return &Appraisal{Property: p, Comparables: set, Valuation: val, OK: ok}, nil
}
