package datatype

import "testing"

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup(ID("nope")); err == nil {
		t.Fatal("expected error for unregistered id")
	}
}

func TestSizeOfScalar(t *testing.T) {
	size, err := SizeOf(I32, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 4 {
		t.Fatalf("got size %d, want 4", size)
	}
}

func TestSizeOfByteArray(t *testing.T) {
	size, err := SizeOf(Bytes, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 6 {
		t.Fatalf("got size %d, want 6", size)
	}
	if _, err := SizeOf(Bytes, -1); err == nil {
		t.Fatal("expected error for negative length")
	}
}

func TestRegisterOverride(t *testing.T) {
	Register(DataType{ID: ID("custom32"), Container: ContainerScalar, FixedSize: 4})
	dt, err := Lookup(ID("custom32"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dt.FixedSize != 4 {
		t.Fatalf("got FixedSize %d, want 4", dt.FixedSize)
	}
}
