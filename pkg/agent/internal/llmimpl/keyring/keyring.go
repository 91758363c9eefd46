// Package keyring rotates a list of provider API keys round-robin, one key per request.
package keyring

import "sync"

// Ring hands out keys in order and wraps around. The zero value and a Ring with no keys
// return "".
type Ring struct {
	keys []string
	next int
	mu   sync.Mutex
}

// New returns a ring over a copy of keys.
func New(keys []string) *Ring {
	return &Ring{keys: append([]string(nil), keys...)}
}

// Next returns the key for the next request.
func (r *Ring) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	key := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return key
}

// Len returns the number of keys in rotation.
func (r *Ring) Len() int {
	return len(r.keys)
}
