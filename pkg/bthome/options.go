package bthome

// WithRegistry sets the registry used to look up encoding rules
func WithRegistry(reg *Registry) func(*Builder) {
	return func(b *Builder) {
		b.registry = reg
	}
}

// WithCapacity preallocates storage for n pending items
func WithCapacity(n int) func(*Builder) {
	return func(b *Builder) {
		if n > 0 {
			b.pending = make([]Item, 0, n)
		}
	}
}
