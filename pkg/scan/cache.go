package scan

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/memsift/memsift/pkg/proc"
)

const (
	cacheBlockSize = 0x1000
	cacheBlocks    = 256
)

// blockCache serves the small reads of a next-scan pass from an LRU of
// page-sized blocks, so runs of adjacent candidates (the common case
// after a first scan of an array or a struct) cost one read instead of
// hundreds. A cache lives for a single pass only; values must be fresh
// across passes, so nothing survives into the next one.
type blockCache struct {
	mem    proc.ProcessMemory
	blocks *lru.Cache
}

func newBlockCache(mem proc.ProcessMemory) *blockCache {
	blocks, err := lru.New(cacheBlocks)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &blockCache{mem: mem, blocks: blocks}
}

// read fills buf from addr, through the cache when the read fits inside
// one block. Any block-level failure falls back to an exact direct read
// so a candidate near an unmapped page boundary is not dropped
// spuriously.
func (bc *blockCache) read(buf []byte, addr uint64) error {
	base := addr &^ (cacheBlockSize - 1)
	if addr+uint64(len(buf)) > base+cacheBlockSize {
		_, err := bc.mem.ReadMemory(buf, addr)
		return err
	}
	if cached, ok := bc.blocks.Get(base); ok {
		copy(buf, cached.([]byte)[addr-base:])
		return nil
	}
	block := make([]byte, cacheBlockSize)
	if _, err := bc.mem.ReadMemory(block, base); err != nil {
		_, err := bc.mem.ReadMemory(buf, addr)
		return err
	}
	bc.blocks.Add(base, block)
	copy(buf, block[addr-base:])
	return nil
}
