package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTableStartsFree(t *testing.T) {
	tbl := New(100, 8)
	for p := uint32(100); p < 108; p++ {
		assert.Equal(t, Free, tbl.Get(p))
	}
	assert.Equal(t, uint32(8), tbl.Len())
	assert.Equal(t, uint32(100), tbl.Base())
}

func TestSetGet(t *testing.T) {
	tbl := New(0, 4)
	tbl.Set(2, Valid)
	assert.Equal(t, Valid, tbl.Get(2))
	assert.Equal(t, Free, tbl.Get(1))
}

func TestIndexPanicsOutOfRange(t *testing.T) {
	tbl := New(10, 4)
	assert.Panics(t, func() { tbl.Get(9) })
	assert.Panics(t, func() { tbl.Get(14) })
}

func TestClearSection(t *testing.T) {
	tbl := New(0, 8)
	for p := uint32(0); p < 8; p++ {
		tbl.Set(p, Valid)
	}
	tbl.ClearSection(4, 4)
	for p := uint32(0); p < 4; p++ {
		assert.Equal(t, Valid, tbl.Get(p))
	}
	for p := uint32(4); p < 8; p++ {
		assert.Equal(t, Free, tbl.Get(p))
	}
}

func TestSectionAllInvalid(t *testing.T) {
	tbl := New(0, 8)
	assert.False(t, tbl.SectionAllInvalid(0, 4))
	for p := uint32(0); p < 4; p++ {
		tbl.Set(p, Invalid)
	}
	assert.True(t, tbl.SectionAllInvalid(0, 4))
	assert.False(t, tbl.SectionAllInvalid(4, 4))
}

func TestCountValid(t *testing.T) {
	tbl := New(0, 8)
	tbl.Set(0, Valid)
	tbl.Set(3, Valid)
	tbl.Set(5, Invalid)
	assert.Equal(t, 2, tbl.CountValid())
}

func TestFillAll(t *testing.T) {
	tbl := New(0, 8)
	tbl.Set(2, Valid)
	tbl.FillAll(Invalid)
	for p := uint32(0); p < 8; p++ {
		assert.Equal(t, Invalid, tbl.Get(p))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FREE", Free.String())
	assert.Equal(t, "VALID", Valid.String())
	assert.Equal(t, "INVALID", Invalid.String())
}
