package correlation

import "fmt"

// Kind classifies how a wait ended.
type Kind string

const (
	OK         Kind = "ok"
	Timeout    Kind = "timeout"
	Cancel     Kind = "cancel"
	Superseded Kind = "superseded"
	Error      Kind = "error"
)

// Outcome is the single result delivered to a waiter. Payload is set for
// OK; Err is set for Error.
type Outcome struct {
	Kind    Kind
	Payload string
	Err     error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return string(o.Kind)
}
