package bits

import "testing"

func TestGetSetClear(t *testing.T) {
	var v uint32
	Set(&v, 3)
	if !Get(v, 3) {
		t.Fatalf("bit 3 not set")
	}
	Clear(&v, 3)
	if Get(v, 3) {
		t.Fatalf("bit 3 still set after Clear")
	}
}

func TestSetTo(t *testing.T) {
	var v uint8
	SetTo(&v, 5, true)
	if !Get(v, 5) {
		t.Fatalf("SetTo(true) did not set bit")
	}
	SetTo(&v, 5, false)
	if Get(v, 5) {
		t.Fatalf("SetTo(false) did not clear bit")
	}
}

func TestGetNSetN(t *testing.T) {
	var v uint16
	SetN(&v, 4, 0x0f, 0xa)
	if got := GetN(v, 4, 0x0f); got != 0xa {
		t.Fatalf("GetN = %#x, want 0xa", got)
	}
}

func TestAlignUpDown(t *testing.T) {
	cases := []struct{ v, align, up, down uint64 }{
		{0, 4096, 0, 0},
		{1, 4096, 4096, 0},
		{4096, 4096, 4096, 4096},
		{4097, 4096, 8192, 4096},
	}
	for _, c := range cases {
		if got := AlignUp(c.v, c.align); got != c.up {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", c.v, c.align, got, c.up)
		}
		if got := AlignDown(c.v, c.align); got != c.down {
			t.Errorf("AlignDown(%d, %d) = %d, want %d", c.v, c.align, got, c.down)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint64{1, 2, 4, 4096} {
		if !IsPowerOfTwo(v) {
			t.Errorf("IsPowerOfTwo(%d) = false, want true", v)
		}
	}
	for _, v := range []uint64{0, 3, 6, 4095} {
		if IsPowerOfTwo(v) {
			t.Errorf("IsPowerOfTwo(%d) = true, want false", v)
		}
	}
}
