package util

// Chunk splits ids into consecutive slices of at most size elements, preserving order.
// The returned slices share the backing array of ids.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}

// Window returns ids[offset:offset+limit] clamped to the slice bounds.
func Window(ids []string, offset, limit int) []string {
	if offset >= len(ids) || limit <= 0 {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}
