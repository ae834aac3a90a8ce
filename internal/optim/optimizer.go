// Package optim holds the optimizer side of the learning-rate contract: an
// ordered list of parameter groups, each with its own mutable learning rate,
// updated through gorgonia solvers.
package optim

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Solver names accepted by Config.Solver.
const (
	SolverSGD  = "sgd"
	SolverAdam = "adam"
)

// ParamGroup is a named subset of trainable nodes sharing one learning rate.
//
// LR is the field schedulers write to. InitialLR is the rate the group
// started with and is what schedulers use as their base rate; it is filled
// from LR when the optimizer is created.
type ParamGroup struct {
	Name      string
	LR        float64
	InitialLR float64
	Params    gorgonia.Nodes
}

// Config holds solver settings shared by all groups.
type Config struct {
	Solver          string  // "sgd" or "adam"
	BatchSize       int     // Gradient averaging divisor (0 = 1)
	GradientClipMax float64 // 0 disables clipping
}

// Optimizer applies one gorgonia solver per parameter group.
type Optimizer struct {
	config   Config
	groups   []*ParamGroup
	solvers  []gorgonia.Solver
	solverLR []float64 // Rate each solver was built with
}

// New creates an optimizer over the given groups. Group order is preserved
// and is the order schedulers address groups in.
func New(config Config, groups []*ParamGroup) (*Optimizer, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one parameter group")
	}

	switch config.Solver {
	case "":
		config.Solver = SolverSGD
	case SolverSGD, SolverAdam:
	default:
		return nil, fmt.Errorf("unknown solver: %q", config.Solver)
	}

	for i, g := range groups {
		if g == nil {
			return nil, fmt.Errorf("parameter group %d is nil", i)
		}
		if g.LR <= 0 {
			return nil, fmt.Errorf("parameter group %d (%s): learning rate must be positive, got %g", i, g.Name, g.LR)
		}
		if g.InitialLR == 0 {
			g.InitialLR = g.LR
		}
	}

	return &Optimizer{
		config:   config,
		groups:   groups,
		solvers:  make([]gorgonia.Solver, len(groups)),
		solverLR: make([]float64, len(groups)),
	}, nil
}

// ParamGroups returns the groups in their fixed order.
func (o *Optimizer) ParamGroups() []*ParamGroup {
	return o.groups
}

// LR returns the current learning rate of group i.
func (o *Optimizer) LR(i int) (float64, error) {
	if i < 0 || i >= len(o.groups) {
		return 0, fmt.Errorf("parameter group index %d out of range [0, %d)", i, len(o.groups))
	}
	return o.groups[i].LR, nil
}

// SetLR sets the learning rate of group i.
func (o *Optimizer) SetLR(i int, lr float64) error {
	if i < 0 || i >= len(o.groups) {
		return fmt.Errorf("parameter group index %d out of range [0, %d)", i, len(o.groups))
	}
	o.groups[i].LR = lr
	return nil
}

// LearningRates returns a copy of every group's current rate.
func (o *Optimizer) LearningRates() []float64 {
	lrs := make([]float64, len(o.groups))
	for i, g := range o.groups {
		lrs[i] = g.LR
	}
	return lrs
}

// Step applies one update to every group that owns parameters. Gradients
// must already be populated, e.g. by running a tape machine.
//
// Each group keeps one solver for its lifetime, built at the group's
// InitialLR, so solver state such as Adam moments carries across rate
// changes. A group whose LR differs from that rate has its update scaled
// by LR/InitialLR; both solvers' updates are linear in the rate.
func (o *Optimizer) Step() error {
	for i, g := range o.groups {
		if len(g.Params) == 0 {
			continue
		}

		solver := o.solverFor(i)
		if o.solverLR[i] <= 0 {
			return fmt.Errorf("group %s: initial learning rate must be positive, got %g", g.Name, o.solverLR[i])
		}
		ratio := g.LR / o.solverLR[i]

		var before []paramSnapshot
		if ratio != 1 {
			before = make([]paramSnapshot, len(g.Params))
			for j, n := range g.Params {
				snap, err := snapshot(n)
				if err != nil {
					return fmt.Errorf("group %s: %w", g.Name, err)
				}
				before[j] = snap
			}
		}

		valueGrads := make([]gorgonia.ValueGrad, len(g.Params))
		for j, n := range g.Params {
			valueGrads[j] = n
		}
		if err := solver.Step(valueGrads); err != nil {
			return fmt.Errorf("group %s: solver step failed: %w", g.Name, err)
		}

		if before != nil {
			for j, n := range g.Params {
				if err := scaleUpdate(n, before[j], ratio); err != nil {
					return fmt.Errorf("group %s: %w", g.Name, err)
				}
			}
		}
	}
	return nil
}

// solverFor returns the solver of group i, creating it on first use.
func (o *Optimizer) solverFor(i int) gorgonia.Solver {
	if o.solvers[i] != nil {
		return o.solvers[i]
	}

	lr := o.groups[i].InitialLR
	opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(lr)}
	if o.config.BatchSize > 1 {
		opts = append(opts, gorgonia.WithBatchSize(float64(o.config.BatchSize)))
	}
	if o.config.GradientClipMax > 0 {
		opts = append(opts, gorgonia.WithClip(o.config.GradientClipMax))
	}

	var solver gorgonia.Solver
	switch o.config.Solver {
	case SolverAdam:
		solver = gorgonia.NewAdamSolver(opts...)
	default:
		solver = gorgonia.NewVanillaSolver(opts...)
	}

	o.solvers[i] = solver
	o.solverLR[i] = lr
	return solver
}
