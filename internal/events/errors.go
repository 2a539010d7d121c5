package events

// SchemaError marks a payload that fails structural validation. Redelivering
// such a message cannot help, so consumers route it straight to dead-letter.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }
