package pretokenize

// Counts is a pretoken-frequency table: how many times each pretoken occurs.
type Counts map[Pretoken]int64

// Add accumulates other into c.
func (c Counts) Add(other Counts) {
	for pt, n := range other {
		c[pt] += n
	}
}

// Total returns the number of pretoken occurrences counted.
func (c Counts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}

// Join combines per-chunk tables into one, summing the counts of identical pretokens.
// The inputs are not modified, and the result does not depend on their order.
func Join(tables ...Counts) Counts {
	size := 0
	for _, t := range tables {
		size = max(size, len(t))
	}
	joined := make(Counts, size)
	for _, t := range tables {
		joined.Add(t)
	}
	return joined
}
