// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(b *testutil.Broker, opts ...connection.Option) *connection.Registry {
	binders := testutil.Binders{
		"primary": {Type: config.BinderTypeRabbit, Addresses: []string{"localhost:5672"}},
		"replay":  {Type: config.BinderTypeRabbit, Addresses: []string{"localhost:5673"}},
	}
	opts = append([]connection.Option{connection.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return connection.NewRegistry(binders, b, opts...)
}

func TestScopeCachesPerBinder(t *testing.T) {
	b := testutil.NewBroker()
	s := newRegistry(b).NewScope()
	ctx := context.Background()

	ch1, err := s.Channel(ctx, "primary")
	require.NoError(t, err)
	ch2, err := s.Channel(ctx, "primary")
	require.NoError(t, err)
	assert.Same(t, ch1, ch2)

	_, err = s.Admin(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Dials("primary"), "admin and channel share one connection")

	_, err = s.Channel(ctx, "replay")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Dials("replay"))
	assert.Equal(t, 2, s.Binders())
}

func TestScopesDoNotShare(t *testing.T) {
	b := testutil.NewBroker()
	r := newRegistry(b)
	ctx := context.Background()

	_, err := r.NewScope().Channel(ctx, "primary")
	require.NoError(t, err)
	_, err = r.NewScope().Channel(ctx, "primary")
	require.NoError(t, err)

	assert.Equal(t, 2, b.Dials("primary"))
}

func TestDestroyReturnsUnacked(t *testing.T) {
	b := testutil.NewBroker()
	b.EnqueueBodies("dlq", "one", "two")
	s := newRegistry(b).NewScope()
	ctx := context.Background()

	ch, err := s.Channel(ctx, "primary")
	require.NoError(t, err)
	_, ok, err := ch.Get("dlq")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, b.Depth("dlq"))

	s.Destroy("primary")
	assert.Equal(t, 2, b.Depth("dlq"))
	assert.Equal(t, 0, b.Open())

	// Destroying again is a no-op.
	s.Destroy("primary")
	s.Destroy("never-used")

	_, err = s.Channel(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Dials("primary"))
}

func TestScopeClose(t *testing.T) {
	b := testutil.NewBroker()
	s := newRegistry(b).NewScope()
	ctx := context.Background()

	_, err := s.Channel(ctx, "primary")
	require.NoError(t, err)
	_, err = s.Admin(ctx, "replay")
	require.NoError(t, err)
	require.Equal(t, 2, b.Open())

	s.Close()
	assert.Equal(t, 0, b.Open())
	assert.Equal(t, 0, s.Binders())
}

func TestUnknownBinder(t *testing.T) {
	b := testutil.NewBroker()
	s := newRegistry(b).NewScope()

	_, err := s.Channel(context.Background(), "missing")
	assert.True(t, errors.Is(err, config.ErrConfiguration))
	assert.Equal(t, 0, s.Binders())
}

func TestBreakerOpens(t *testing.T) {
	b := testutil.NewBroker()
	r := newRegistry(b, connection.WithBreaker(config.BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	}))
	ctx := context.Background()

	refused := errors.New("connection refused")
	b.FailDial(refused)
	for i := 0; i < 2; i++ {
		_, err := r.NewScope().Channel(ctx, "primary")
		assert.ErrorIs(t, err, refused)
	}

	b.FailDial(nil)
	_, err := r.NewScope().Channel(ctx, "primary")
	assert.ErrorIs(t, err, connection.ErrBinderUnavailable)

	// Breakers are per binder.
	_, err = r.NewScope().Channel(ctx, "replay")
	assert.NoError(t, err)
}

func TestScopeContext(t *testing.T) {
	s := newRegistry(testutil.NewBroker()).NewScope()

	_, ok := connection.ScopeFromContext(context.Background())
	assert.False(t, ok)

	got, ok := connection.ScopeFromContext(connection.WithScope(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.NotEmpty(t, got.ID())
}
