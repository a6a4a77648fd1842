package eligibility

// maxInQuery is the directory's hard limit on ids per "in" query. Exceeding
// it makes the read fail rather than degrade.
const maxInQuery = 10

// BatchSize is the chunk size for directory reads.
const BatchSize = 10

// BatchSize must never exceed the directory limit.
const _ uint = maxInQuery - BatchSize

// Chunk splits items into consecutive slices of at most size elements.
// The returned slices alias items.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic("eligibility: chunk size must be positive")
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}
