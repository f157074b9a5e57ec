package storage

import "fmt"

// Pebble key schema:
//
//	gs              → global state (fee collector)
//	ob:<pair>       → order book snapshot
//	tr:<pair>:<timestamp>:<seq> → executed fill
//
// Fill timestamps are zero-padded for lexicographic sorting.
const (
	prefixBook = "ob:"
	prefixFill = "tr:"
)

func globalKey() []byte { return []byte("gs") }

func bookKey(pair string) []byte {
	return []byte(prefixBook + pair)
}

func fillKey(pair string, timestamp int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%012d", prefixFill, pair, timestamp, seq))
}

func fillPrefix(pair string) []byte {
	return []byte(prefixFill + pair + ":")
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
