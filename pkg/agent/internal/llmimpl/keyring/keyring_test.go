package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingRotates(t *testing.T) {
	r := New([]string{"k1", "k2", "k3"})
	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, r.Next())
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2"}, got)
	assert.Equal(t, 3, r.Len())
}

func TestEmptyRing(t *testing.T) {
	assert.Equal(t, "", New(nil).Next())
	var zero Ring
	assert.Equal(t, "", zero.Next())
}
