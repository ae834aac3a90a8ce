package schedule

import (
	"fmt"
	"math"
	"sort"

	"github.com/thyrook/trainkit/internal/optim"
)

// NotStarted is the starting position of a fresh scheduler. The first step,
// taken by New, moves it to epoch 0.
const NotStarted = -1

// Optimizer is what a Scheduler needs from an optimizer: its ordered
// parameter groups. Rates are written to group i's LR field.
type Optimizer interface {
	ParamGroups() []*optim.ParamGroup
}

// Scheduler applies a Schedule to an optimizer. It is not safe for
// concurrent use; the training loop owns it.
type Scheduler struct {
	schedule  Schedule
	optimizer Optimizer
	lastEpoch int
	lastRates []float64
}

// State is the part of a Scheduler that survives a checkpoint.
type State struct {
	Family    Family    `json:"family"`
	LastEpoch int       `json:"last_epoch"`
	BaseRates []float64 `json:"base_rates"`
	LastRates []float64 `json:"last_rates"`
}

// New binds s to opt and applies the rate for position lastEpoch+1. Pass
// NotStarted for a fresh run.
//
// When s.BaseRates is empty the base rates are taken from the groups'
// InitialLR (or LR when InitialLR is unset).
func New(opt Optimizer, s Schedule, lastEpoch int) (*Scheduler, error) {
	if opt == nil {
		return nil, fmt.Errorf("%w: nil optimizer", ErrInvalidConfiguration)
	}
	groups := opt.ParamGroups()

	if len(s.BaseRates) == 0 {
		s.BaseRates = make([]float64, len(groups))
		for i, g := range groups {
			s.BaseRates[i] = g.InitialLR
			if s.BaseRates[i] == 0 {
				s.BaseRates[i] = g.LR
			}
		}
	} else {
		s.BaseRates = append([]float64(nil), s.BaseRates...)
	}
	if len(s.BaseRates) != len(groups) {
		return nil, fmt.Errorf("%w: %d base rates for %d parameter groups",
			ErrInvalidConfiguration, len(s.BaseRates), len(groups))
	}

	if len(s.Milestones) > 0 {
		s.Milestones = append([]int(nil), s.Milestones...)
		sort.Ints(s.Milestones)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if lastEpoch < NotStarted {
		return nil, fmt.Errorf("%w: starting epoch %d before %d", ErrInvalidConfiguration, lastEpoch, NotStarted)
	}

	for i, g := range groups {
		if g.InitialLR == 0 {
			g.InitialLR = s.BaseRates[i]
		}
	}

	sched := &Scheduler{
		schedule:  s,
		optimizer: opt,
		lastEpoch: lastEpoch,
	}
	sched.Step()
	return sched, nil
}

// Schedule returns the schedule the scheduler evaluates.
func (s *Scheduler) Schedule() Schedule {
	return s.schedule
}

// Rates returns the rates at position without touching scheduler state.
func (s *Scheduler) Rates(position float64) []float64 {
	return s.schedule.Rates(position)
}

// Step advances one full epoch: position LastEpoch()+1.
func (s *Scheduler) Step() {
	s.apply(float64(s.lastEpoch + 1))
}

// StepTo moves to an explicit, possibly fractional, position such as
// epoch + batch/batches. LastEpoch becomes floor(position) while the rates
// are evaluated at position itself, so per-batch stepping decays smoothly.
func (s *Scheduler) StepTo(position float64) error {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return fmt.Errorf("%w: position must be finite, got %v", ErrInvalidArgument, position)
	}
	if position < 0 {
		return fmt.Errorf("%w: expected non-negative epoch, got %v", ErrInvalidArgument, position)
	}
	s.apply(position)
	return nil
}

func (s *Scheduler) apply(position float64) {
	s.lastEpoch = int(math.Floor(position))

	groups := s.optimizer.ParamGroups()
	for i, lr := range s.schedule.Rates(position) {
		if i >= len(groups) {
			break
		}
		groups[i].LR = lr
	}

	s.lastRates = s.lastRates[:0]
	for _, g := range groups {
		s.lastRates = append(s.lastRates, g.LR)
	}
}

// LastEpoch returns the integer epoch of the most recent step.
func (s *Scheduler) LastEpoch() int {
	return s.lastEpoch
}

// LastRates returns a copy of the rates applied by the most recent step.
func (s *Scheduler) LastRates() []float64 {
	return append([]float64(nil), s.lastRates...)
}

// State captures the scheduler for a checkpoint.
func (s *Scheduler) State() State {
	return State{
		Family:    s.schedule.Family,
		LastEpoch: s.lastEpoch,
		BaseRates: append([]float64(nil), s.schedule.BaseRates...),
		LastRates: s.LastRates(),
	}
}

// LoadState restores a checkpointed state and writes its last rates back
// into the optimizer groups. The family and group count must match; base
// rates are taken from the checkpoint when it carries one per group and
// become the groups' InitialLR.
func (s *Scheduler) LoadState(st State) error {
	if st.Family != s.schedule.Family {
		return fmt.Errorf("%w: checkpoint family %q does not match %q",
			ErrInvalidConfiguration, st.Family, s.schedule.Family)
	}
	groups := s.optimizer.ParamGroups()
	if len(st.LastRates) != len(groups) {
		return fmt.Errorf("%w: checkpoint has %d rates for %d parameter groups",
			ErrInvalidConfiguration, len(st.LastRates), len(groups))
	}
	if st.LastEpoch < NotStarted {
		return fmt.Errorf("%w: checkpoint epoch %d", ErrInvalidConfiguration, st.LastEpoch)
	}

	if len(st.BaseRates) == len(groups) {
		s.schedule.BaseRates = append([]float64(nil), st.BaseRates...)
	}
	s.lastEpoch = st.LastEpoch
	for i, g := range groups {
		g.LR = st.LastRates[i]
		g.InitialLR = s.schedule.BaseRates[i]
	}
	s.lastRates = append(s.lastRates[:0], st.LastRates...)
	return nil
}
