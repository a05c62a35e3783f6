// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchwire/sentinel/domain"
)

type fnNotifier struct {
	called *atomic.Int32
	err    error
}

func (f fnNotifier) Notify(ctx context.Context, e domain.Endpoint, ev Event) error {
	f.called.Add(1)
	return f.err
}

func TestDispatchInvokesEveryBoundNotifier(t *testing.T) {
	var okCalls, failCalls atomic.Int32
	binding := NewStaticBinding(fnNotifier{called: &okCalls})
	binding.Bind(7, fnNotifier{called: &failCalls, err: errors.New("boom")})

	d := New(slog.Default(), binding)
	d.Dispatch(context.Background(), domain.Endpoint{ID: 7}, StatusChange(domain.StatusDown))

	assert.Equal(t, int32(1), okCalls.Load())
	assert.Equal(t, int32(1), failCalls.Load())
}

func TestDispatchNoNotifiersIsNoop(t *testing.T) {
	d := New(slog.Default(), NewStaticBinding())
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), domain.Endpoint{ID: 1}, StatusChange(domain.StatusUp))
	})
}

func TestOneNotifierFailureDoesNotBlockAnother(t *testing.T) {
	var a, b atomic.Int32
	binding := NewStaticBinding(
		fnNotifier{called: &a, err: errors.New("fails")},
		fnNotifier{called: &b},
	)
	d := New(slog.Default(), binding)
	d.Dispatch(context.Background(), domain.Endpoint{ID: 1}, StatusChange(domain.StatusDown))

	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}
