package ioloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserDataRoundTrip(t *testing.T) {
	cases := []struct {
		op  Opcode
		key uint32
	}{
		{OpAccept, 0},
		{OpRead, 0x0001ffff},
		{OpWrite, 0xffffffff},
		{OpEventFD, 0},
	}
	for _, c := range cases {
		ud := userData(c.op, c.key)
		gotOp, gotKey := splitUserData(ud)
		require.Equal(t, c.op, gotOp)
		require.Equal(t, c.key, gotKey)
	}
}
