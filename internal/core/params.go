package core

import "fmt"

// Params is the tagged per-kind job configuration. Exactly one variant is
// set, matching the job's TaskKind; anything else fails validation before a
// job is created.
type Params struct {
	Training     *TrainingParams     `json:"training,omitempty"`
	Optimization *OptimizationParams `json:"optimization,omitempty"`
	Inference    *InferenceParams    `json:"inference,omitempty"`
}

// TrainingParams configures a training job.
type TrainingParams struct {
	TotalEpochs     int     `json:"total_epochs"`
	BatchSize       int     `json:"batch_size"`
	LearningRate    float64 `json:"learning_rate"`
	ValidationSplit float64 `json:"validation_split"`
}

// OptimizationParams configures a hyperparameter search.
type OptimizationParams struct {
	Trials int    `json:"n_trials"`
	Metric string `json:"metric"`
}

// InferenceParams configures an asynchronous batch inference job.
type InferenceParams struct {
	Items     []BatchItem `json:"items"`
	Threshold float64     `json:"threshold"`
}

// BatchItem is one article inside a batch inference request. It is never
// persisted beyond the response.
type BatchItem struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
}

const (
	maxEpochs     = 1000
	maxTrials     = 500
	maxBatchItems = 1000
)

// ValidKinds lists the accepted task kinds, for error messages.
var ValidKinds = []TaskKind{TaskKindTraining, TaskKindOptimization, TaskKindInference}

// Validate checks the params against the given kind. It returns a
// *ValidationError describing the first problem found.
func (p Params) Validate(kind TaskKind) error {
	switch kind {
	case TaskKindTraining:
		if p.Training == nil {
			return NewValidationError("training parameters are required")
		}
		return p.Training.validate()
	case TaskKindOptimization:
		if p.Optimization == nil {
			return NewValidationError("optimization parameters are required")
		}
		return p.Optimization.validate()
	case TaskKindInference:
		if p.Inference == nil {
			return NewValidationError("inference parameters are required")
		}
		return p.Inference.validate()
	default:
		return NewValidationError(fmt.Sprintf("unknown task kind: %q", kind))
	}
}

func (p *TrainingParams) validate() error {
	if p.TotalEpochs < 1 || p.TotalEpochs > maxEpochs {
		return NewValidationError(fmt.Sprintf("total_epochs must be in [1, %d]", maxEpochs))
	}
	if p.BatchSize < 1 {
		return NewValidationError("batch_size must be positive")
	}
	if p.LearningRate <= 0 {
		return NewValidationError("learning_rate must be positive")
	}
	if p.ValidationSplit < 0 || p.ValidationSplit >= 1 {
		return NewValidationError("validation_split must be in [0, 1)")
	}
	return nil
}

func (p *OptimizationParams) validate() error {
	if p.Trials < 1 || p.Trials > maxTrials {
		return NewValidationError(fmt.Sprintf("n_trials must be in [1, %d]", maxTrials))
	}
	switch p.Metric {
	case "f1_macro", "accuracy":
	default:
		return NewValidationError(fmt.Sprintf("unsupported optimization metric: %q", p.Metric))
	}
	return nil
}

func (p *InferenceParams) validate() error {
	if len(p.Items) == 0 {
		return NewValidationError("at least one item is required")
	}
	if len(p.Items) > maxBatchItems {
		return NewValidationError(fmt.Sprintf("at most %d items per batch", maxBatchItems))
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		return NewValidationError("threshold must be in (0, 1]")
	}
	return nil
}
