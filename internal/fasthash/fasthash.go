// Package fasthash contains utilities for fast hashing of strings that are
// used as lookup keys by the compiled rule indexes.
package fasthash

// String implements the djb2 hash algorithm for a string.
func String(str string) (hash uint32) {
	if str == "" {
		return 0
	}

	return Between(str, 0, len(str))
}

// Between implements the djb2 hash algorithm for str[begin:end] without
// allocating a substring.  The caller must make sure the bounds are valid.
func Between(str string, begin, end int) (hash uint32) {
	hash = uint32(5381)
	for i := begin; i < end; i++ {
		hash = (hash * 33) ^ uint32(str[i])
	}

	return hash
}
