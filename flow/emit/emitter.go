package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: one process may drive many
// runs at once, each emitting independently. Emit must not panic and must not
// block workflow progress; slow backends should buffer or drop internally.
type Emitter interface {
	Emit(event Event)
}
