package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_AcquireRelease(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire ok")
	}
	if p.InUse() != 1 || p.Cap() != 1 {
		t.Fatalf("expected 1/1 in use, got %d/%d", p.InUse(), p.Cap())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to time out")
	}

	release()
	if p.InUse() != 0 {
		t.Fatalf("expected slot released")
	}
}
