package scenario

// ScenarioAction defines the invocation under test.
type ScenarioAction struct {
	Tool   string  `yaml:"tool"`
	Target *string `yaml:"target,omitempty"`
}

// Case is one test case within a scenario. Trust sets every tensor
// dimension of the actor, so it is also the actor's composite; omitted
// means neutral.
type Case struct {
	Action ScenarioAction `yaml:"action"`
	Trust  *float64       `yaml:"trust,omitempty"`
	Expect string         `yaml:"expect"`
	Rule   string         `yaml:"rule,omitempty"`
}

// Scenario is a named collection of policy test cases.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int     `json:"index"`
	Passed   bool    `json:"passed"`
	Tool     string  `json:"tool"`
	Target   string  `json:"target"`
	Trust    float64 `json:"trust"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Rule     string  `json:"rule,omitempty"`
	Reason   string  `json:"reason"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
