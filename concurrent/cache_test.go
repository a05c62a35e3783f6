// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package concurrent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputesOnceAndNeverExpires(t *testing.T) {
	c := NewCache[string, int]()
	calls := 0

	v, err := c.GetOr("k", func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOr("k", func() (int, error) {
		calls++
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestGetOrRefreshExpiresAfterTTL(t *testing.T) {
	c := NewCache[string, int]()
	calls := 0
	load := func() (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrRefresh("k", time.Millisecond, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	time.Sleep(5 * time.Millisecond)

	v, err = c.GetOrRefresh("k", time.Millisecond, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestGetOrPropagatesLoaderError(t *testing.T) {
	c := NewCache[string, int]()
	_, err := c.GetOr("k", func() (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok, "a failed load must not populate the cache")
}
