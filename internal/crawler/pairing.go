package crawler

import "github.com/JakeFAU/ocsync/internal/feed"

// PairPartitions splits the ordered list into a forward first half and a
// reversed second half and pairs them index-wise, so the largest and smallest
// partitions tend to share a worker. An odd count leaves the middle partition
// alone in the last pair.
func PairPartitions(partitions []feed.Partition) [][]feed.Partition {
	n := len(partitions)
	if n == 0 {
		return nil
	}
	half := (n + 1) / 2
	first := partitions[:half]
	second := make([]feed.Partition, 0, n-half)
	for i := n - 1; i >= half; i-- {
		second = append(second, partitions[i])
	}
	pairs := make([][]feed.Partition, 0, half)
	for i, p := range first {
		pair := []feed.Partition{p}
		if i < len(second) {
			pair = append(pair, second[i])
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// Batches groups pairs into runs of at most size pairs.
func Batches(pairs [][]feed.Partition, size int) [][][]feed.Partition {
	if size < 1 {
		size = 1
	}
	var out [][][]feed.Partition
	for start := 0; start < len(pairs); start += size {
		end := min(start+size, len(pairs))
		out = append(out, pairs[start:end])
	}
	return out
}
