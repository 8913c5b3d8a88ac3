package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBlockAllUnmapped(t *testing.T) {
	b := NewBlock(0)
	for i := uint32(0); i < EntriesPerBlock; i++ {
		_, ok := b.Get(i)
		assert.False(t, ok)
	}
}

func TestSetMarksDirty(t *testing.T) {
	b := NewBlock(0)
	assert.False(t, b.Dirty)
	b.Set(5, 42)
	assert.True(t, b.Dirty)
	p, ok := b.Get(5)
	assert.True(t, ok)
	assert.Equal(t, uint32(42), p)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBlock(1020)
	b.Ver = 3
	b.Set(0, 7)
	b.Set(1019, 99)

	page := b.Encode()
	assert.Len(t, page, 4096)

	got, ok, err := Decode(page)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(1020), got.Index)
	assert.Equal(t, uint32(3), got.Ver)
	p0, _ := got.Get(0)
	assert.Equal(t, uint32(7), p0)
	p1019, _ := got.Get(1019)
	assert.Equal(t, uint32(99), p1019)
}

func TestDecodeRejectsBadMagicWithoutError(t *testing.T) {
	page := make([]byte, 4096)
	blk, ok, err := Decode(page)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, blk)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, _, err := Decode(make([]byte, 100))
	assert.Error(t, err)
}
