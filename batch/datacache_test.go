package batch

import (
	"bytes"
	"os"
	"testing"
)

func drainAll(t *testing.T, c *DataCache) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := c.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
		c.Remained(0, 0)
	}
	return out
}

func TestDataCachePutGetRoundTripRAMOnly(t *testing.T) {
	c := NewDataCache(BufferLimitDefault, nil)
	want := []byte("hello, batch")
	if err := c.Put(want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	got := drainAll(t, c)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDataCacheSpillsPastRAMCapacity(t *testing.T) {
	c := NewDataCache(BufferLimitDefault, nil)
	want := bytes.Repeat([]byte{0xAB}, RAMBatch*3+17)
	if err := c.Put(want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.used == 0 {
		t.Fatalf("expected data to spill to disk, used=%d", c.used)
	}
	if _, err := c.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	got := drainAll(t, c)
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(want))
	}
}

func TestDataCachePut3PatchesSpilledRegion(t *testing.T) {
	c := NewDataCache(BufferLimitDefault, nil)
	// Force a spill, then patch a byte that landed in the spill file.
	big := bytes.Repeat([]byte{0x00}, RAMBatch*2)
	if err := c.Put(big); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put3([]byte{0xFF}, 10); err != nil {
		t.Fatalf("Put3: %v", err)
	}
	if c.hashValid {
		t.Fatalf("expected hashValid to be false after a Put3 patch")
	}
	if _, err := c.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	got := drainAll(t, c)
	if got[10] != 0xFF {
		t.Fatalf("patched byte not observed: got %x", got[10])
	}
}

func TestDataCacheAlignPadsToBoundary(t *testing.T) {
	c := NewDataCache(BufferLimitDefault, nil)
	if err := c.Put([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Align(8); err != nil {
		t.Fatalf("Align: %v", err)
	}
	if c.logicalSize()%8 != 0 {
		t.Fatalf("expected size aligned to 8, got %d", c.logicalSize())
	}
}

func TestDataCacheOverflow(t *testing.T) {
	c := NewDataCache(8, nil)
	if err := c.Put(make([]byte, 16)); err == nil {
		t.Fatalf("expected a buffer overflow error")
	}
}

func TestDataCacheDoneOnEmptyCacheReturnsTrue(t *testing.T) {
	c := NewDataCache(BufferLimitDefault, nil)
	ok, err := c.Done()
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	if !ok {
		t.Fatalf("Done on an empty cache must still report true")
	}
	if got := drainAll(t, c); len(got) != 0 {
		t.Fatalf("draining an empty cache yielded %d bytes, want 0", len(got))
	}
}

func TestDataCacheClearRemovesSpillFile(t *testing.T) {
	c := NewDataCache(BufferLimitDefault, nil)
	if err := c.Put(bytes.Repeat([]byte{1}, RAMBatch*2)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	path := c.spillPath
	if path == "" {
		t.Fatalf("expected a spill file to have been created")
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.used != 0 || len(c.ram) != 0 {
		t.Fatalf("Clear did not reset state: used=%d ram=%d", c.used, len(c.ram))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected spill file %s to be removed by Clear, stat err=%v", path, err)
	}
}
