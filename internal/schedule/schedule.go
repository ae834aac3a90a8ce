// Package schedule computes learning rates as a function of the epoch
// position and applies them to an optimizer's parameter groups.
//
// The position is a real number: its integer part is the epoch index and its
// fractional part the progress through that epoch, so a schedule can be
// stepped once per epoch or once per batch.
package schedule

import (
	"fmt"
	"math"
	"sort"
)

// Family names a schedule shape.
type Family string

const (
	FamilyStep         Family = "step"
	FamilyMultiStep    Family = "multistep"
	FamilyExponential  Family = "exponential"
	FamilyCosine       Family = "cosine"
	FamilyWarmupCosine Family = "warmup_cosine"
)

// ParseFamily maps a configured name to a Family. "exp" is accepted as an
// alias of "exponential".
func ParseFamily(name string) (Family, error) {
	switch Family(name) {
	case FamilyStep, FamilyMultiStep, FamilyExponential, FamilyCosine, FamilyWarmupCosine:
		return Family(name), nil
	case "exp":
		return FamilyExponential, nil
	}
	return "", fmt.Errorf("%w: unavailable lr_scheduler %q", ErrInvalidConfiguration, name)
}

// Schedule is the full description of a learning-rate curve. Family selects
// which of the remaining fields apply:
//
//   - step:          StepSize, Gamma
//   - multistep:     Milestones, Gamma
//   - exponential:   Gamma
//   - cosine:        TotalEpochs (WarmupEpochs is forced to 0)
//   - warmup_cosine: TotalEpochs, WarmupEpochs
//
// BaseRates holds one rate per parameter group, in group order.
type Schedule struct {
	Family       Family
	TotalEpochs  int
	WarmupEpochs int
	StepSize     int
	Gamma        float64
	Milestones   []int
	BaseRates    []float64
}

// WarmupCosine returns a warmup-cosine schedule over the given base rates.
func WarmupCosine(totalEpochs, warmupEpochs int, baseRates []float64) Schedule {
	return Schedule{
		Family:       FamilyWarmupCosine,
		TotalEpochs:  totalEpochs,
		WarmupEpochs: warmupEpochs,
		BaseRates:    baseRates,
	}
}

// Validate checks the fields the family uses. Errors wrap
// ErrInvalidConfiguration.
func (s Schedule) Validate() error {
	switch s.Family {
	case FamilyCosine, FamilyWarmupCosine:
		if s.TotalEpochs <= 0 {
			return fmt.Errorf("%w: expected positive integer epochs, got %d", ErrInvalidConfiguration, s.TotalEpochs)
		}
		if s.WarmupEpochs < 0 {
			return fmt.Errorf("%w: expected non-negative warmup epochs, got %d", ErrInvalidConfiguration, s.WarmupEpochs)
		}
		if s.Family == FamilyCosine && s.WarmupEpochs != 0 {
			return fmt.Errorf("%w: cosine schedule takes no warmup, got %d", ErrInvalidConfiguration, s.WarmupEpochs)
		}
		if s.WarmupEpochs >= s.TotalEpochs {
			return fmt.Errorf("%w: warmup epochs (%d) must be less than epochs (%d)",
				ErrInvalidConfiguration, s.WarmupEpochs, s.TotalEpochs)
		}
	case FamilyStep:
		if s.StepSize <= 0 {
			return fmt.Errorf("%w: expected positive step size, got %d", ErrInvalidConfiguration, s.StepSize)
		}
		if s.Gamma <= 0 {
			return fmt.Errorf("%w: expected positive gamma, got %g", ErrInvalidConfiguration, s.Gamma)
		}
	case FamilyMultiStep:
		if s.Gamma <= 0 {
			return fmt.Errorf("%w: expected positive gamma, got %g", ErrInvalidConfiguration, s.Gamma)
		}
		for _, m := range s.Milestones {
			if m < 0 {
				return fmt.Errorf("%w: negative milestone %d", ErrInvalidConfiguration, m)
			}
		}
	case FamilyExponential:
		if s.Gamma <= 0 {
			return fmt.Errorf("%w: expected positive gamma, got %g", ErrInvalidConfiguration, s.Gamma)
		}
	default:
		return fmt.Errorf("%w: unavailable lr_scheduler %q", ErrInvalidConfiguration, s.Family)
	}

	if len(s.BaseRates) == 0 {
		return fmt.Errorf("%w: no base learning rates", ErrInvalidConfiguration)
	}
	return nil
}

// Rates evaluates the schedule at position, one rate per base rate. It does
// not validate s; call Validate first.
func (s Schedule) Rates(position float64) []float64 {
	switch s.Family {
	case FamilyCosine, FamilyWarmupCosine:
		return WarmupCosineRates(position, s)
	case FamilyStep:
		return scale(s.BaseRates, math.Pow(s.Gamma, math.Floor(position/float64(s.StepSize))))
	case FamilyMultiStep:
		return scale(s.BaseRates, math.Pow(s.Gamma, float64(milestonesPassed(s.Milestones, position))))
	case FamilyExponential:
		return scale(s.BaseRates, math.Pow(s.Gamma, position))
	}
	return scale(s.BaseRates, 1)
}

// WarmupCosineRates is the warmup + half-cosine curve. Before WarmupEpochs
// the rate climbs linearly as b*(position+1)/warmup; from WarmupEpochs on it
// follows b*(1+cos(pi*(position-warmup)/(total-warmup)))/2, reaching 0 at
// TotalEpochs.
func WarmupCosineRates(position float64, s Schedule) []float64 {
	warmup := float64(s.WarmupEpochs)
	total := float64(s.TotalEpochs)

	rates := make([]float64, len(s.BaseRates))
	for i, b := range s.BaseRates {
		if position < warmup {
			rates[i] = b * (position + 1) / warmup
			continue
		}
		rates[i] = b * (1 + math.Cos(math.Pi*(position-warmup)/(total-warmup))) / 2
	}
	return rates
}

func scale(base []float64, factor float64) []float64 {
	rates := make([]float64, len(base))
	for i, b := range base {
		rates[i] = b * factor
	}
	return rates
}

// milestonesPassed counts milestones <= position. milestones must be sorted.
func milestonesPassed(milestones []int, position float64) int {
	return sort.Search(len(milestones), func(i int) bool {
		return float64(milestones[i]) > position
	})
}
