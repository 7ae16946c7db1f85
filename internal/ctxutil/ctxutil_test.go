package ctxutil_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mrz1836/switchyard/internal/ctxutil"
)

func TestCanceled(t *testing.T) {
	t.Parallel()

	t.Run("returns nil for active context", func(t *testing.T) {
		t.Parallel()
		if err := ctxutil.Canceled(context.Background()); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("returns error for canceled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := ctxutil.Canceled(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("returns error for deadline exceeded", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		<-ctx.Done()
		err := ctxutil.Canceled(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	})
}
