package optim

import (
	"gorgonia.org/gorgonia"

	"github.com/thyrook/trainkit/internal/config"
)

// DefaultGroup names the single group used when the config lists none
const DefaultGroup = "default"

// FromConfig builds an optimizer whose groups follow cfg.Groups, or one
// DefaultGroup when that is empty. params supplies each group's nodes by
// name and may be nil for schedule-only use. batchSize is the gradient
// averaging divisor.
func FromConfig(cfg config.OptimizerConfig, batchSize int, params map[string]gorgonia.Nodes) (*Optimizer, error) {
	groupCfgs := cfg.Groups
	if len(groupCfgs) == 0 {
		groupCfgs = []config.ParamGroupConfig{{Name: DefaultGroup}}
	}

	groups := make([]*ParamGroup, len(groupCfgs))
	for i, gc := range groupCfgs {
		lr := gc.LR
		if lr == 0 {
			lr = cfg.LR
		}
		groups[i] = &ParamGroup{
			Name:   gc.Name,
			LR:     lr,
			Params: params[gc.Name],
		}
	}

	return New(Config{
		Solver:          cfg.Solver,
		BatchSize:       batchSize,
		GradientClipMax: cfg.GradientClipMax,
	}, groups)
}
