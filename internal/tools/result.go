package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string // content fed back to the model
	IsError bool   // marks failure; still forwarded, turn continues
	Err     error  // internal error, never shown to the model
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
