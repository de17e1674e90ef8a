package core

import "testing"

func TestCheckMapRange(t *testing.T) {
	tests := []struct {
		name       string
		bufSize    int
		offset     int
		size       int
		wantSize   int
		wantKind   ErrorKind
	}{
		{"whole buffer", 64, 0, 0, 64, ErrNone},
		{"explicit region", 64, 16, 32, 32, ErrNone},
		{"remainder", 64, 48, 0, 16, ErrNone},
		{"at end", 64, 64, 0, 0, ErrNone},
		{"negative offset", 64, -1, 0, 0, ErrInvalidArgument},
		{"offset past end", 64, 65, 0, 0, ErrInvalidArgument},
		{"region past end", 64, 60, 8, 0, ErrInvalidArgument},
		{"negative size", 64, 0, -4, 0, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := CheckMapRange(tt.bufSize, tt.offset, tt.size)
			if tt.wantKind == ErrNone {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if size != tt.wantSize {
					t.Fatalf("size = %d, want %d", size, tt.wantSize)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if AsError(err).Kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", AsError(err).Kind, tt.wantKind)
			}
		})
	}
}

func TestHostBufferMapUnmap(t *testing.T) {
	b := NewHostBuffer(nil, 32, StorageHost)
	if b.ByteSize() != 32 || b.Storage() != StorageHost || b.Shared() {
		t.Fatal("unexpected buffer properties")
	}

	mapped, err := b.Map(AccessWriteDiscard, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	copy(mapped, []byte{1, 2, 3, 4})
	if err := b.Unmap(mapped); err != nil {
		t.Fatal(err)
	}
	if got := b.Data()[8]; got != 1 {
		t.Fatalf("write not visible: %d", got)
	}

	if err := b.Unmap(nil); err == nil {
		t.Fatal("unmap of nil mapping must fail")
	}
}

func TestHostBufferFree(t *testing.T) {
	b := NewHostBuffer(nil, 16, StorageHost)
	b.Free()
	if _, err := b.Map(AccessRead, 0, 0); err == nil {
		t.Fatal("map of freed buffer must fail")
	}

	backing := []byte{9, 9}
	shared := NewSharedHostBuffer(nil, backing)
	if !shared.Shared() {
		t.Fatal("shared flag lost")
	}
	shared.Free()
	if backing[0] != 9 {
		t.Fatal("freeing a shared buffer must not touch user memory")
	}
}
