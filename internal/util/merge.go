// Package util holds small generic helpers shared across the bot.
package util

// Merge combines two slices and removes duplicates based on the extracted key.
// Items from secondary override items from primary under the same key, but the
// output keeps the position of the first occurrence of each key. Within a
// single input the last occurrence wins, consistent with the single
// accumulation pass.
func Merge[T any, K comparable](primary, secondary []T, keyOf func(T) K) []T {
	index := make(map[K]int, len(primary)+len(secondary))
	out := make([]T, 0, len(primary)+len(secondary))

	insert := func(item T) {
		k := keyOf(item)
		if i, seen := index[k]; seen {
			out[i] = item
			return
		}
		index[k] = len(out)
		out = append(out, item)
	}

	for _, item := range primary {
		insert(item)
	}
	for _, item := range secondary {
		insert(item)
	}

	return out
}
