package ratelimit

const (
	fdSafetyMargin    = 100
	defaultDescriptor = 8000
)

// InitialBatchSize derives a starting batch size from the open file limit:
// 80% of the descriptors left after a safety margin, clamped to
// [minSize, maxSize].
func InitialBatchSize(minSize, maxSize int) int {
	limit, ok := descriptorLimit()
	if !ok || limit == 0 {
		limit = defaultDescriptor
	}
	return batchForLimit(limit, minSize, maxSize)
}

func batchForLimit(limit uint64, minSize, maxSize int) int {
	var avail uint64
	if limit > fdSafetyMargin {
		avail = limit - fdSafetyMargin
	}
	n := avail * 80 / 100
	if n > uint64(maxSize) {
		return maxSize
	}
	return max(minSize, int(n))
}
