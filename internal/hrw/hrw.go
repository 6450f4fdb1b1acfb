// Package hrw implements rendezvous (highest random weight) hashing over
// endpoint names.
package hrw

import (
	"encoding/binary"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// Rank orders endpoints by descending rendezvous score for key. The same key
// and endpoint set always yield the same order, and removing an endpoint
// keeps the relative order of the rest.
func Rank(key string, endpoints []string, seed string) []string {
	type scored struct {
		score uint64
		ep    string
	}
	all := make([]scored, len(endpoints))
	keyB := []byte(key)
	for i, ep := range endpoints {
		all[i] = scored{score: score(keyB, ep, seed), ep: ep}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.ep
	}
	return out
}

// Best returns the highest scoring endpoint. ok=false if endpoints is empty.
func Best(key string, endpoints []string, seed string) (best string, ok bool) {
	if len(endpoints) == 0 {
		return "", false
	}
	var top uint64
	keyB := []byte(key)
	for i, ep := range endpoints {
		if s := score(keyB, ep, seed); i == 0 || s > top {
			best, top = ep, s
		}
	}
	return best, true
}

func score(key []byte, endpoint, seed string) uint64 {
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write(key)
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	return binary.BigEndian.Uint64(h.Sum(nil))
}
