package coretypes

// CodingTaskType enumerates the kinds of coding work the Coder specialist
// can be asked to perform.
type CodingTaskType string

const (
	CodingCreate   CodingTaskType = "create"
	CodingEdit     CodingTaskType = "edit"
	CodingRefactor CodingTaskType = "refactor"
	CodingFix      CodingTaskType = "fix"
	CodingExplain  CodingTaskType = "explain"
)

// OptimizeFor is the axis an AlgorithmTask asks the specialist to favor.
type OptimizeFor string

const (
	OptimizeTime       OptimizeFor = "time"
	OptimizeSpace      OptimizeFor = "space"
	OptimizeReadability OptimizeFor = "readability"
)

// CodingTask requests work from the Coder specialist.
type CodingTask struct {
	TaskType     CodingTaskType
	TargetFiles  []string
	Instructions string
	ExistingCode map[string]string // path -> current content, optional
	Language     string
	Constraints  []string
}

// AlgorithmTask requests work from the Algorithm specialist.
type AlgorithmTask struct {
	CodingTask
	ExpectedComplexity string
	OptimizeFor        OptimizeFor
}

// CodeResult is the response from the Coder specialist.
type CodeResult struct {
	Files                    map[string]string // full-file mode
	Edits                    []EditBlock       // diff mode
	NeedsAlgorithmSpecialist bool
	Success                  bool
	Error                    string
	Metadata                 map[string]string
}

// ComplexityAnalysis summarizes the algorithmic cost of a solution.
type ComplexityAnalysis struct {
	Time  string
	Space string
}

// AlgorithmResult is the response from the Algorithm specialist.
type AlgorithmResult struct {
	CodeResult
	Complexity ComplexityAnalysis
	Rationale  string
}
