package fsops

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	err := New(KindCorruption, "stat", "/a/b")
	if !errors.Is(err, ErrCorruption) {
		t.Fatal("expected errors.Is to match sentinel by kind")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("expected no match against a different kind's sentinel")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("short read")
	err := Wrap(KindIo, "read", "/x", cause)
	if !errors.Is(err, ErrIo) {
		t.Fatal("expected Io kind match")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap chain to reach the original cause")
	}
}

func TestKindOf(t *testing.T) {
	err := New(KindBusy, "open", "/dev/sda1")
	kind, ok := KindOf(err)
	if !ok || kind != KindBusy {
		t.Fatalf("KindOf = (%v, %v), want (Busy, true)", kind, ok)
	}

	_, ok = KindOf(fmt.Errorf("plain error"))
	if ok {
		t.Fatal("expected KindOf to report false for a non-*Error")
	}
}

func TestIsCorruptionHelper(t *testing.T) {
	err := Wrap(KindCorruption, "readExtentTree", "/big.bin", errors.New("bad magic"))
	if !IsCorruption(err) {
		t.Fatal("expected IsCorruption true")
	}
	if IsCorruption(New(KindIo, "read", "/x")) {
		t.Fatal("expected IsCorruption false for Io kind")
	}
}
