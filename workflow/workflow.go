package workflow

// Definition is a typed workflow definition with a handler function.
// I is the input type and O the output type; both must be
// JSON-serializable because they are stored on the Execution.
type Definition[I, O any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Version distinguishes incompatible revisions of the handler.
	// Executions stay on the version they were started with.
	Version int

	// Handler is the function that executes the workflow logic.
	Handler func(wf *Workflow, input I) (O, error)
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[I, O any](name string, handler func(wf *Workflow, input I) (O, error)) *Definition[I, O] {
	return &Definition[I, O]{
		Name:    name,
		Handler: handler,
	}
}
