package position

// Status is the load state of an externally sourced value
type Status int

const (
	StatusPending Status = iota
	StatusResolved
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of one external read: pending, resolved with a value, or failed
type Result[T any] struct {
	status Status
	value  T
	err    error
}

// Resolved wraps a successfully read value
func Resolved[T any](v T) Result[T] {
	return Result[T]{status: StatusResolved, value: v}
}

// Pending returns a result that has not resolved yet
func Pending[T any]() Result[T] {
	return Result[T]{status: StatusPending}
}

// Failed wraps a read error
func Failed[T any](err error) Result[T] {
	return Result[T]{status: StatusFailed, err: err}
}

// FromErr builds a result from a (value, error) pair
func FromErr[T any](v T, err error) Result[T] {
	if err != nil {
		return Failed[T](err)
	}
	return Resolved(v)
}

// Status returns the load state
func (r Result[T]) Status() Status {
	return r.status
}

// Get returns the value and whether it resolved
func (r Result[T]) Get() (T, bool) {
	return r.value, r.status == StatusResolved
}

// Err returns the read error of a failed result
func (r Result[T]) Err() error {
	return r.err
}
