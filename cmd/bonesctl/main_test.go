// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{
		"7",
		"2.5",
		"plain",
		`[1, [2, 3.5]]`,
		`{"n": 4, "inner": {"xs": [5]}}`,
	})
	require.NoError(t, err)
	require.Len(t, params, 5)

	assert.Equal(t, int64(7), params[0])
	assert.Equal(t, 2.5, params[1])
	assert.Equal(t, "plain", params[2])
	assert.Equal(t, []interface{}{int64(1), []interface{}{int64(2), 3.5}}, params[3])
	assert.Equal(t, map[string]interface{}{
		"n":     int64(4),
		"inner": map[string]interface{}{"xs": []interface{}{int64(5)}},
	}, params[4])
}
