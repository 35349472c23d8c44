package models

// ResultStatus discriminates the outcome of one component execution.
// It is the single ok|error tag inspected by the consolidator and report.
type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultError   ResultStatus = "error"
	ResultSkipped ResultStatus = "skipped_from_checkpoint"
)

// ComponentResult is the normalized output of one component. Executors may
// return maps, slices, or scalars; the normalizer coerces everything into
// this shape and is the only place that ever inspects raw shapes.
type ComponentResult struct {
	Component  string         `json:"component"`
	Status     ResultStatus   `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Converted  bool           `json:"converted,omitempty"`
	TotalItems int            `json:"total_items,omitempty"`
}

// OK reports whether the component produced a usable result, either fresh
// or reloaded from a checkpoint.
func (r ComponentResult) OK() bool {
	return r.Status == ResultOK || r.Status == ResultSkipped
}

// ErrorResult builds the error sentinel recorded when a component fails.
// Downstream components still receive it in their predecessor outputs.
func ErrorResult(component, kind, msg string) ComponentResult {
	return ComponentResult{
		Component: component,
		Status:    ResultError,
		Error:     msg,
		ErrorKind: kind,
	}
}
