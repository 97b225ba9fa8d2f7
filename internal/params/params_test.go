package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapture_RecordsBeforeRegistering(t *testing.T) {
	reg := NewRegistry()
	var seen string
	next := func(name string, args []any, fn any) {
		seen, _ = reg.Lookup(name)
	}

	Capture(reg, next)("adds", []any{1, 2}, nil)

	assert.Equal(t, "[1,2]", seen)
	got, ok := reg.Lookup("adds")
	assert.True(t, ok)
	assert.Equal(t, "[1,2]", got)
}

func TestCapture_LastWriteWins(t *testing.T) {
	reg := NewRegistry()
	register := Capture(reg, func(string, []any, any) {})

	register("same", []any{"first"}, nil)
	register("same", []any{"second"}, nil)

	got, _ := reg.Lookup("same")
	assert.Equal(t, `["second"]`, got)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Reset(t *testing.T) {
	reg := NewRegistry()
	reg.Set("a", "[1]")
	reg.Set("b", "[2]")

	reg.Reset()

	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Lookup("a")
	assert.False(t, ok)
}

func TestSerialize_Stable(t *testing.T) {
	args := []any{map[string]any{"z": 1, "a": []int{3, 2}}, "x"}
	assert.Equal(t, `[{"a":[3,2],"z":1},"x"]`, Serialize(args))
	assert.Equal(t, Serialize(args), Serialize(args))
}
