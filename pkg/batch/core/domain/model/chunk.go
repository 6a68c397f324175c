package model

// RawRecord is one unparsed record from a source together with its position.
type RawRecord struct {
	// Offset is the zero-based position of the record in the source.
	Offset int64
	Line   string
}

// Chunk is the ordered set of items written together in one transaction.
// Start and End delimit the source range [Start, End) consumed by the chunk,
// including records that were filtered or skipped.
type Chunk struct {
	Items   []any
	Offsets []int64
	Start   int64
	End     int64
}

// NewChunk creates an empty chunk starting at offset start.
func NewChunk(start int64, capacity int) *Chunk {
	return &Chunk{
		Items:   make([]any, 0, capacity),
		Offsets: make([]int64, 0, capacity),
		Start:   start,
		End:     start,
	}
}

// Add appends an item read at offset.
func (c *Chunk) Add(item any, offset int64) {
	c.Items = append(c.Items, item)
	c.Offsets = append(c.Offsets, offset)
}

// Advance records that the record at offset has been consumed.
func (c *Chunk) Advance(offset int64) {
	if offset+1 > c.End {
		c.End = offset + 1
	}
}

// Len returns the number of items to write.
func (c *Chunk) Len() int {
	return len(c.Items)
}

// Consumed reports whether any record was consumed, written or not.
func (c *Chunk) Consumed() bool {
	return c.End > c.Start
}
