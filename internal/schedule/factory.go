package schedule

import (
	"fmt"

	"github.com/thyrook/trainkit/internal/config"
)

// FromConfig builds the scheduler named by cfg.LRScheduler over the
// optimizer's groups. Base rates come from the groups.
//
//	step          decay by StepGamma every StepSize epochs
//	multistep     decay by StepGamma at each of StepMilestones
//	exponential   decay by StepGamma every epoch ("exp" also accepted)
//	cosine        warmup-cosine with no warmup
//	warmup_cosine warmup-cosine with Warmup warmup epochs
func FromConfig(opt Optimizer, cfg config.TrainConfig) (*Scheduler, error) {
	family, err := ParseFamily(cfg.LRScheduler)
	if err != nil {
		return nil, err
	}

	s := Schedule{Family: family}
	switch family {
	case FamilyStep:
		s.StepSize = cfg.StepSize
		s.Gamma = cfg.StepGamma
	case FamilyMultiStep:
		s.Milestones = cfg.StepMilestones
		s.Gamma = cfg.StepGamma
	case FamilyExponential:
		s.Gamma = cfg.StepGamma
	case FamilyCosine:
		s.TotalEpochs = cfg.Epochs
	case FamilyWarmupCosine:
		s.TotalEpochs = cfg.Epochs
		s.WarmupEpochs = cfg.Warmup
	default:
		return nil, fmt.Errorf("%w: unavailable lr_scheduler %q", ErrInvalidConfiguration, cfg.LRScheduler)
	}

	return New(opt, s, NotStarted)
}
