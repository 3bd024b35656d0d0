package chain

// Sequence is an iteration-indexed record that can be extended by another
// record of the same schema.
type Sequence[T any] interface {
	Len() int
	Concat(T) (T, error)
}

// Merge concatenates next onto old along the iteration axis, old entries
// first. Either side may be empty or the zero value.
func Merge[T Sequence[T]](old, next T) (T, error) {
	return old.Concat(next)
}
