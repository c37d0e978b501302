package chunkgeom

import "testing"

func TestCalculateChunkSize(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		expected int
	}{
		{"zero", 0, MinChunkSize},
		{"negative", -1, MinChunkSize},
		{"tiny", 1000, MinChunkSize},
		{"exactly below min threshold", int64(MinChunkSize * targetChunks), MinChunkSize},
		{"huge clamps to max", 1 << 40, MaxChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateChunkSize(tt.size); got != tt.expected {
				t.Errorf("CalculateChunkSize(%d) = %d, want %d", tt.size, got, tt.expected)
			}
		})
	}
}

func TestCalculateTotalChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int
		expected  int
	}{
		{"empty file", 0, MinChunkSize, 0},
		{"negative size", -5, MinChunkSize, 0},
		{"exact multiple", int64(MinChunkSize * 4), MinChunkSize, 4},
		{"remainder rounds up", int64(MinChunkSize*4 + 1), MinChunkSize, 5},
		{"smallest nonzero file", 1, MinChunkSize, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateTotalChunks(tt.size, tt.chunkSize); got != tt.expected {
				t.Errorf("CalculateTotalChunks(%d, %d) = %d, want %d", tt.size, tt.chunkSize, got, tt.expected)
			}
		})
	}
}

func TestChunkBounds(t *testing.T) {
	total := int64(MinChunkSize*2 + 100)

	b := ChunkBounds(0, MinChunkSize, total)
	if b.Start != 0 || b.End != MinChunkSize {
		t.Errorf("chunk 0 bounds = %+v", b)
	}

	b = ChunkBounds(1, MinChunkSize, total)
	if b.Start != MinChunkSize || b.End != MinChunkSize*2 {
		t.Errorf("chunk 1 bounds = %+v", b)
	}

	// Last chunk is short.
	b = ChunkBounds(2, MinChunkSize, total)
	if b.Start != MinChunkSize*2 || b.End != total {
		t.Errorf("final chunk bounds = %+v", b)
	}

	// Out-of-range index clamps to the end of the file, yielding an empty range.
	b = ChunkBounds(5, MinChunkSize, total)
	if b.Start != total || b.End != total {
		t.Errorf("out-of-range chunk bounds = %+v, want empty range at EOF", b)
	}
}

func TestClampBounds(t *testing.T) {
	if Clamp(1) != MinChunkSize {
		t.Errorf("Clamp(1) should floor to MinChunkSize")
	}
	if Clamp(MaxChunkSize+1) != MaxChunkSize {
		t.Errorf("Clamp should ceiling to MaxChunkSize")
	}
	if Clamp(MinChunkSize) != MinChunkSize {
		t.Errorf("Clamp should be a no-op within range")
	}
}
