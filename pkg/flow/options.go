package flow

import "time"

// Default execution limits.
const (
	DefaultTimeout            = 5 * time.Minute
	DefaultMaxConcurrentNodes = 4
	DefaultRetryBackoff       = 250 * time.Millisecond
)

// Options control a single flow execution.
type Options struct {
	// Timeout bounds the whole execution. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxConcurrentNodes bounds how many ready nodes run at once.
	MaxConcurrentNodes int

	// RetryAttempts is the per-node retry budget for retryable errors. A node
	// runs at most RetryAttempts+1 times.
	RetryAttempts int

	// RetryBackoff is the base delay between attempts; it doubles per retry.
	RetryBackoff time.Duration

	// FailFast stops scheduling as soon as any node fails.
	FailFast bool

	// UserID seeds variant selection so the same user lands on the same
	// variant across executions.
	UserID string

	// DryRun validates and plans without calling any provider; every planned
	// node is recorded as skipped.
	DryRun bool

	// ExecutionID overrides the generated execution ID.
	ExecutionID string

	// VariantID records which variant was selected for this execution.
	VariantID string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.MaxConcurrentNodes <= 0 {
		o.MaxConcurrentNodes = DefaultMaxConcurrentNodes
	}

	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}

	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}

	return o
}
