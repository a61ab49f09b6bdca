package fifo

// Circular Fifo of fixed capacity, used for the message queues of the
// link layer.
type Fifo[T any] struct {
	buffer   []T
	writePos int
	readPos  int
	count    int
}

func NewFifo[T any](size int) *Fifo[T] {
	return &Fifo[T]{buffer: make([]T, size)}
}

func (f *Fifo[T]) Reset() {
	var zero T
	for i := range f.buffer {
		f.buffer[i] = zero
	}
	f.readPos = 0
	f.writePos = 0
	f.count = 0
}

// GetSpace returns the number of free slots
func (f *Fifo[T]) GetSpace() int {
	return len(f.buffer) - f.count
}

// GetOccupied returns the number of queued elements
func (f *Fifo[T]) GetOccupied() int {
	return f.count
}

func (f *Fifo[T]) Cap() int {
	return len(f.buffer)
}

// Push element at the end, returns false if full
func (f *Fifo[T]) Push(element T) bool {
	if f.count == len(f.buffer) {
		return false
	}
	f.buffer[f.writePos] = element
	f.writePos++
	if f.writePos == len(f.buffer) {
		f.writePos = 0
	}
	f.count++
	return true
}

// Peek returns the oldest element without removing it
func (f *Fifo[T]) Peek() (T, bool) {
	var zero T
	if f.count == 0 {
		return zero, false
	}
	return f.buffer[f.readPos], true
}

// Pop removes and returns the oldest element
func (f *Fifo[T]) Pop() (T, bool) {
	var zero T
	if f.count == 0 {
		return zero, false
	}
	element := f.buffer[f.readPos]
	f.buffer[f.readPos] = zero
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	f.count--
	return element, true
}

// Each calls fn for every queued element, oldest first
func (f *Fifo[T]) Each(fn func(element T)) {
	pos := f.readPos
	for i := 0; i < f.count; i++ {
		fn(f.buffer[pos])
		pos++
		if pos == len(f.buffer) {
			pos = 0
		}
	}
}
