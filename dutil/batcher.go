package dutil

// KeyedBatcher groups items into batches of items sharing the same key, e.g.
// samples of identical spatial shape. Items of other keys wait in their own
// buffer until it fills up.
type KeyedBatcher struct {
	size    int
	key     func(item interface{}) string
	buffers map[string][]interface{}
}

// NewKeyedBatcher creates a KeyedBatcher emitting batches of `size` items.
func NewKeyedBatcher(size int, key func(item interface{}) string) *KeyedBatcher {
	if size < 1 {
		size = 1
	}
	return &KeyedBatcher{
		size:    size,
		key:     key,
		buffers: make(map[string][]interface{}),
	}
}

// Add buffers an item. When the item's group reaches the batch size, the
// group is returned as a batch and its buffer emptied.
func (b *KeyedBatcher) Add(item interface{}) ([]interface{}, bool) {
	k := b.key(item)
	buf := append(b.buffers[k], item)
	if len(buf) < b.size {
		b.buffers[k] = buf
		return nil, false
	}
	delete(b.buffers, k)

	return buf, true
}

// Pending returns number of buffered items.
func (b *KeyedBatcher) Pending() int {
	var n int
	for _, buf := range b.buffers {
		n += len(buf)
	}
	return n
}
