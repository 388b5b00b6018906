package taskalloc

// Taskable is the execution contract for anything that can carry out a task:
// re-arm for a fresh run, advance exactly one unit of work, report completion.
type Taskable interface {
	Reset()
	Execute() error
	Finished() bool
}

// Interfacer is implemented by mechanisms that pass through an interface
// phase (e.g. handing work off to the next subtask). While AtInterface is
// true the owning task accumulates interface time.
type Interfacer interface {
	AtInterface() bool
}
