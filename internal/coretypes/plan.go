package coretypes

import "time"

// StepStatus is the lifecycle state of a TaskStep. Transitions are
// append-only: Pending -> InProgress -> {Completed, Failed, Skipped}.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// StepType identifies what kind of work a TaskStep performs. Values mirror
// the router's Intent taxonomy since step.type is derived by re-running the
// router's pattern rules against each clause .
type StepType string

const (
	StepToolCall  StepType = "tool_call"
	StepCodeGen   StepType = "code_gen"
	StepAlgorithm StepType = "algorithm"
	StepAnswer    StepType = "answer"
)

// TaskStep is one unit of work inside a TaskPlan.
type TaskStep struct {
	ID          string
	Type        StepType
	Description string
	Params      map[string]string
	DependsOn   []string
	Status      StepStatus
	Result      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// TaskPlan is the ordered decomposition of a multi-clause utterance.
type TaskPlan struct {
	Steps          []*TaskStep
	ExecutionOrder []string
	IsSequential   bool
}

// StepByID returns the step with the given id, or nil.
func (p *TaskPlan) StepByID(id string) *TaskStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}
