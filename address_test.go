// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressResolve(t *testing.T) {
	tests := []struct {
		in       string
		resolved string
		network  string
		dial     string
	}{
		{in: "127.0.0.1:7000", resolved: "127.0.0.1:7000", network: "tcp", dial: "127.0.0.1:7000"},
		{in: "[::1]:7001", resolved: "[::1]:7001", network: "tcp", dial: "[::1]:7001"},
		{in: "unix:/tmp/bones.sock", resolved: "unix:/tmp/bones.sock", network: "unix", dial: "/tmp/bones.sock"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a := NewAddress(tt.in)
			assert.False(t, a.Valid())
			assert.Equal(t, tt.in, a.Resolved(), "unresolved addresses render as given")

			require.NoError(t, a.Resolve(context.Background(), nil))
			assert.True(t, a.Valid())
			assert.Equal(t, tt.resolved, a.Resolved())
			network, dial := a.Network()
			assert.Equal(t, tt.network, network)
			assert.Equal(t, tt.dial, dial)
		})
	}
}

func TestAddressResolveErrors(t *testing.T) {
	for _, in := range []string{"no-port", "127.0.0.1:0", "127.0.0.1:99999", "unix:"} {
		err := NewAddress(in).Resolve(context.Background(), nil)
		require.Error(t, err, in)
		assert.True(t, IsKind(err, KindConnectionFailure), in)
	}
}

func TestAddressHostAndPort(t *testing.T) {
	a := NewAddress("10.1.2.3:9000")
	require.NoError(t, a.Resolve(context.Background(), nil))
	assert.Equal(t, "10.1.2.3", a.Host())
	assert.Equal(t, 9000, a.Port())
	assert.Equal(t, "10.1.2.3:9000", a.Original())
}
