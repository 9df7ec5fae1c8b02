package streambuf

import (
	"bytes"
	"testing"
)

func TestPrepareCommitPullRoundTrip(t *testing.T) {
	b := New(8)

	dst := b.Prepare(5)
	copy(dst, []byte("hello"))
	b.Commit(5)

	if b.Size() != 5 {
		t.Fatalf("expected size 5, got %d", b.Size())
	}
	if !bytes.Equal(b.Data(), []byte("hello")) {
		t.Fatalf("unexpected data %q", b.Data())
	}

	b.Pull(2)
	if !bytes.Equal(b.Data(), []byte("llo")) {
		t.Fatalf("expected remaining %q, got %q", "llo", b.Data())
	}

	dst2 := b.Prepare(4)
	copy(dst2, []byte("worl"))
	b.Commit(4)
	if !bytes.Equal(b.Data(), []byte("lloworl")) {
		t.Fatalf("unexpected data after second commit: %q", b.Data())
	}
}

func TestPrepareGrowsBeyondCapacity(t *testing.T) {
	b := New(4)
	dst := b.Prepare(100)
	if len(dst) != 100 {
		t.Fatalf("expected 100 bytes of room, got %d", len(dst))
	}
	copy(dst, bytes.Repeat([]byte("x"), 100))
	b.Commit(100)
	if b.Size() != 100 {
		t.Fatalf("expected size 100, got %d", b.Size())
	}
}

func TestPullDrainsToEmptyResetsOffset(t *testing.T) {
	b := New(8)
	copy(b.Prepare(3), []byte("abc"))
	b.Commit(3)
	b.Pull(3)
	if b.Size() != 0 {
		t.Fatalf("expected empty buffer, got size %d", b.Size())
	}
	// After fully draining, Prepare should reuse from the front.
	dst := b.Prepare(2)
	copy(dst, []byte("zz"))
	b.Commit(2)
	if !bytes.Equal(b.Data(), []byte("zz")) {
		t.Fatalf("expected %q, got %q", "zz", b.Data())
	}
}

func TestPullBeyondSizeClampsToZero(t *testing.T) {
	b := New(8)
	copy(b.Prepare(2), []byte("ab"))
	b.Commit(2)
	b.Pull(10)
	if b.Size() != 0 {
		t.Fatalf("expected size 0 after over-pull, got %d", b.Size())
	}
}
