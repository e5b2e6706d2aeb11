/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package bytereader

import "testing"

func TestU2BigEndian(t *testing.T) {
	r := New([]byte{0x01, 0x02})
	v, err := r.U2()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0x0102 {
		t.Errorf("expected 0x0102, got 0x%04x", v)
	}
	if r.Pos() != 2 {
		t.Errorf("expected pos 2, got %d", r.Pos())
	}
}

func TestU4BigEndian(t *testing.T) {
	r := New([]byte{0xCA, 0xFE, 0xBA, 0xBE})
	v, err := r.U4()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0xCAFEBABE {
		t.Errorf("expected 0xCAFEBABE, got 0x%08x", v)
	}
}

func TestS4NegativeRoundTrip(t *testing.T) {
	r := New([]byte{0xFF, 0xFF, 0xFF, 0xFB}) // -5
	v, err := r.S4()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -5 {
		t.Errorf("expected -5, got %d", v)
	}
}

func TestU1OverrunReturnsError(t *testing.T) {
	r := New([]byte{})
	if _, err := r.U1(); err == nil {
		t.Error("expected error reading past end of buffer")
	}
}

func TestU8RoundTrip(t *testing.T) {
	r := New([]byte{0, 0, 0, 0, 0, 0, 0, 42})
	v, err := r.U8()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestPadTo4(t *testing.T) {
	// origin 0, currently at offset 3 -> needs 1 pad byte to reach 4
	r := New(make([]byte, 10))
	r.SetPos(3)
	r.PadTo4(0)
	if r.Pos() != 4 {
		t.Errorf("expected pos 4 after pad, got %d", r.Pos())
	}

	// already aligned: no padding
	r2 := New(make([]byte, 10))
	r2.SetPos(8)
	r2.PadTo4(0)
	if r2.Pos() != 8 {
		t.Errorf("expected pos 8 (already aligned), got %d", r2.Pos())
	}
}

func TestRemaining(t *testing.T) {
	r := New([]byte{1, 2, 3, 4})
	if r.Remaining() != 4 {
		t.Errorf("expected 4 remaining, got %d", r.Remaining())
	}
	_, _ = r.U2()
	if r.Remaining() != 2 {
		t.Errorf("expected 2 remaining, got %d", r.Remaining())
	}
}
