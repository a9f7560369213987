package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJanitorCleanup(t *testing.T) {
	t.Run("disabled never connects", func(t *testing.T) {
		ft := newFakeTransport(nil)
		NewJanitor(ft.dialer(), false).Cleanup(context.Background(), []uint32{1, 2})

		assert.Equal(t, 0, ft.connects)
		assert.Empty(t, ft.discarded)
	})

	t.Run("empty set never connects", func(t *testing.T) {
		ft := newFakeTransport(nil)
		NewJanitor(ft.dialer(), true).Cleanup(context.Background(), nil)

		assert.Equal(t, 0, ft.connects)
	})

	t.Run("discards exactly the given ids", func(t *testing.T) {
		ft := newFakeTransport(nil)
		NewJanitor(ft.dialer(), true).Cleanup(context.Background(), []uint32{5, 9})

		assert.Equal(t, 1, ft.connects)
		assert.Equal(t, []uint32{5, 9}, ft.discarded)
		assert.True(t, ft.expunged)
		assert.Equal(t, 1, ft.disconnects)
	})

	t.Run("first failure aborts the rest", func(t *testing.T) {
		ft := newFakeTransport(nil)
		ft.discardErr[2] = errors.New("NO [TRYCREATE]")

		NewJanitor(ft.dialer(), true).Cleanup(context.Background(), []uint32{1, 2, 3})

		assert.Equal(t, []uint32{1}, ft.discarded)
		assert.Equal(t, 1, ft.disconnects)
	})

	t.Run("connection failure is swallowed", func(t *testing.T) {
		ft := newFakeTransport(nil)
		ft.connectErr = errors.New("dial tcp: i/o timeout")

		assert.NotPanics(t, func() {
			NewJanitor(ft.dialer(), true).Cleanup(context.Background(), []uint32{1})
		})
		assert.Empty(t, ft.discarded)
	})
}
