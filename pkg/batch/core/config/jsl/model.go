// Package jsl defines the job definition language of lubatch: a YAML document describing a
// job's ordered flow of chunk steps and splits, and the components each step is built from.
package jsl

// Job represents the top-level structure of a job definition file.
type Job struct {
	// ID is the unique identifier for the job.
	ID string `yaml:"id"`
	// Name is the logical name of the job. JobInstances are keyed by it.
	Name string `yaml:"name"`
	// Description is an optional description for the job.
	Description string `yaml:"description,omitempty"`
	// Flow defines the execution flow of the job.
	Flow Flow `yaml:"flow"`
	// Listeners is an optional list of JobExecutionListener references applied to this job.
	Listeners []ComponentRef `yaml:"listeners,omitempty"`
	// Incrementer is an optional reference to a JobParametersIncrementer.
	Incrementer ComponentRef `yaml:"incrementer,omitempty"`
	// RequiredParams lists the job parameters that must be present at launch.
	RequiredParams []string `yaml:"required-params,omitempty"`
}

// Flow is the ordered list of elements of a job.
type Flow struct {
	Elements []Element `yaml:"elements"`
}

// Element is one entry of a flow. Exactly one of Step and Split is set.
type Element struct {
	Step  *Step  `yaml:"step,omitempty"`
	Split *Split `yaml:"split,omitempty"`
	// AllowFailure lets the flow continue when the element fails.
	AllowFailure bool `yaml:"allow-failure,omitempty"`
}

// Step represents a chunk-oriented step.
type Step struct {
	// ID is the unique identifier for the step. It is also the step name.
	ID string `yaml:"id"`
	// Description is an optional description for the step.
	Description string `yaml:"description,omitempty"`
	// Source is the reference to the RecordSource component.
	Source ComponentRef `yaml:"source"`
	// Mapper is the reference to the RecordMapper component.
	Mapper ComponentRef `yaml:"mapper"`
	// Processor is an optional reference to an ItemProcessor component.
	Processor ComponentRef `yaml:"processor,omitempty"`
	// Writer is the reference to the ItemWriter component.
	Writer ComponentRef `yaml:"writer"`
	// Chunk defines the properties for chunk-oriented processing.
	Chunk Chunk `yaml:"chunk,omitempty"`
	// Skip overrides the configured skip policy for this step.
	Skip *SkipPolicy `yaml:"skip,omitempty"`
	// Retry overrides the configured retry policy for this step.
	Retry *RetryPolicy `yaml:"retry,omitempty"`
	// Listeners is an optional list of listener references. Each listener is registered for
	// every step listener interface it implements (step, chunk, skip, retry).
	Listeners []ComponentRef `yaml:"listeners,omitempty"`
}

// Split runs its steps in parallel.
type Split struct {
	// ID is the unique identifier for the Split.
	ID string `yaml:"id"`
	// Description is an optional description for the Split.
	Description string `yaml:"description,omitempty"`
	// Steps are the steps executed in parallel.
	Steps []Step `yaml:"steps"`
}

// ComponentRef refers to a component of the builder's component table.
type ComponentRef struct {
	// Ref is the reference name of the component.
	Ref string `yaml:"ref"`
	// Properties is an optional map of properties injected from the job definition.
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Chunk defines the chunk-oriented processing properties for a step.
type Chunk struct {
	// ItemCount specifies the number of items written per chunk. Zero uses the configured chunk size.
	ItemCount int `yaml:"item-count"`
	// IsolationLevel specifies the transaction isolation level (e.g., "SERIALIZABLE").
	IsolationLevel string `yaml:"isolation-level,omitempty"`
}

// SkipPolicy is the per-step skip configuration.
type SkipPolicy struct {
	Limit                     *int     `yaml:"skip-limit,omitempty"`
	SkippableExceptionClasses []string `yaml:"skippable-exception-classes,omitempty"`
	NoSkipExceptionClasses    []string `yaml:"no-skip-exception-classes,omitempty"`
}

// RetryPolicy is the per-step retry configuration.
type RetryPolicy struct {
	MaxAttempts               *int     `yaml:"max-attempts,omitempty"`
	InitialIntervalMillis     *int     `yaml:"initial-interval,omitempty"`
	RetryableExceptionClasses []string `yaml:"retryable-exception-classes,omitempty"`
}
