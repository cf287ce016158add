package rcu

type options[T any] struct {
	deleter func(*T)
}

// Option configures an Object.
type Option[T any] func(*options[T])

// WithDeleter sets a function that is called exactly once for every value
// that is reclaimed. Without a deleter, reclaimed values are left to the
// garbage collector.
func WithDeleter[T any](fn func(*T)) Option[T] {
	return func(o *options[T]) {
		o.deleter = fn
	}
}
