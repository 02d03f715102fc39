package metadata

// Rule is a declarative validation rule attached to an entity schema. The
// expression is evaluated against {record, old, action} and must return true
// for the write to proceed.
type Rule struct {
	Field      string `json:"field,omitempty"`
	Expr       string `json:"expr"`
	Message    string `json:"message,omitempty"`
	StopOnFail bool   `json:"stop_on_fail,omitempty"`
}
