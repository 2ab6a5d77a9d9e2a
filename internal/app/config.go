package app

import (
	"github.com/cloo-solutions/mnemo/internal/config"
	"github.com/cloo-solutions/mnemo/internal/service"
)

func RankerConfig(cfg *config.Config) service.RankerConfig {
	return service.RankerConfig{
		Cap:               cfg.RankerCap,
		Candidates:        cfg.RankerCandidates,
		Threshold:         cfg.RankerThreshold,
		DecayLambda:       cfg.RankerDecayLambda,
		Diversity:         cfg.RankerDiversity,
		SimilarityCeiling: cfg.RankerSimilarityCeiling,
	}
}

func PipelineConfig(cfg *config.Config) service.PipelineConfig {
	p := service.DefaultPipelineConfig()
	p.Stage = service.StageConfig{Timeout: cfg.StageTimeout, RetryBackoff: cfg.StageRetryBackoff}
	p.TransformWindow = cfg.TransformWindow
	p.Scoring = service.ScoringConfig{CritiquePenalty: cfg.CritiquePenalty, ConflictPenalty: cfg.ConflictPenalty}
	p.Governance = service.GovernanceConfig{ApprovalThreshold: cfg.ApprovalThreshold}
	p.StaleDecayFloor = cfg.StaleDecayFloor
	return p
}
