package directory

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/mmvar/internal/hash"
)

// Space is the part of the mapped file the directory reads and updates.
type Space interface {
	Bytes() []byte
	Epoch() uint64
	// BumpEpoch increments the epoch and returns the new value.
	BumpEpoch() uint64
	VariableCount() uint64
	SetVariableCount(n uint64)
}

// Allocator provides room for additional directory blocks.
type Allocator interface {
	Alloc(size uint64) (uint64, error)
}

type block struct {
	off   uint64
	slots uint64
	base  uint32
}

// Directory resolves names to entries.
type Directory struct {
	space Space
	alloc Allocator
	first uint64

	// mu guards the in-process index; the file contents are guarded by the
	// caller's lock.
	mu     sync.Mutex
	built  bool
	epoch  uint64
	blocks []block
	index  map[string]uint32
	free   *roaring.Bitmap
}

// New returns a Directory whose first block is at offset first.
func New(space Space, alloc Allocator, first uint64) *Directory {
	return &Directory{space: space, alloc: alloc, first: first}
}

// load rebuilds the index if the directory changed since it was built.
func (d *Directory) load() error {
	if d.built && d.epoch == d.space.Epoch() {
		return nil
	}
	return d.rebuild()
}

func (d *Directory) rebuild() error {
	b := d.space.Bytes()
	size := uint64(len(b))
	epoch := d.space.Epoch()

	var blocks []block
	index := make(map[string]uint32)
	free := roaring.New()

	var base uint64
	for off := d.first; off != 0; {
		if off%8 != 0 || off > size || size-off < BlockHeaderSize {
			return corrupt(off, "block outside mapping")
		}
		slots := binary.LittleEndian.Uint64(b[off+offBlockSlots:])
		if slots == 0 || slots > (size-off-BlockHeaderSize)/EntrySize {
			return corrupt(off, "bad slot count %d", slots)
		}
		// More slots than the mapping can hold means the chain loops.
		if base+slots > size/EntrySize || base+slots > math.MaxUint32 {
			return corrupt(off, "block chain cycle")
		}
		blocks = append(blocks, block{off: off, slots: slots, base: uint32(base)})

		for i := range slots {
			slot := uint32(base + i)
			e := decodeEntry(b, slot, off+BlockHeaderSize+i*EntrySize)
			if e.Type == TypeFree {
				free.Add(slot)
				continue
			}
			if !e.Type.Valid() {
				return corrupt(e.Offset, "unknown type %d", e.Type)
			}
			if err := ValidateName(e.Name); err != nil {
				return corrupt(e.Offset, "bad name: %v", err)
			}
			if e.Hash != hash.Name([]byte(e.Name)) {
				return corrupt(e.Offset, "name hash mismatch for %q", e.Name)
			}
			if _, dup := index[e.Name]; dup {
				return corrupt(e.Offset, "duplicate name %q", e.Name)
			}
			index[e.Name] = slot
		}

		base += slots
		off = binary.LittleEndian.Uint64(b[off+offBlockNext:])
	}

	d.blocks = blocks
	d.index = index
	d.free = free
	d.epoch = epoch
	d.built = true
	return nil
}

// offset resolves a slot number to its entry offset.
func (d *Directory) offset(slot uint32) (uint64, bool) {
	for _, blk := range d.blocks {
		if slot >= blk.base && uint64(slot-blk.base) < blk.slots {
			return blk.off + BlockHeaderSize + uint64(slot-blk.base)*EntrySize, true
		}
	}
	return 0, false
}

func (d *Directory) live(slot, gen uint32) (Entry, error) {
	off, ok := d.offset(slot)
	if !ok {
		return Entry{}, ErrNotFound
	}
	e := decodeEntry(d.space.Bytes(), slot, off)
	if e.Type == TypeFree || e.Gen != gen {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Lookup returns the live entry named name.
func (d *Directory) Lookup(name string) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return Entry{}, err
	}
	slot, ok := d.index[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	off, _ := d.offset(slot)
	return decodeEntry(d.space.Bytes(), slot, off), nil
}

// Get returns the entry at slot if it is live with generation gen.
func (d *Directory) Get(slot, gen uint32) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return Entry{}, err
	}
	return d.live(slot, gen)
}

// Peek resolves slot against the current index without consulting the file
// epoch. It reports false when the entry cannot be resolved that way (unknown
// block, stale generation, entry beyond the mapping); callers then fall back
// to Get under the file lock.
func (d *Directory) Peek(slot, gen uint32) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.built {
		return Entry{}, false
	}
	off, ok := d.offset(slot)
	b := d.space.Bytes()
	if !ok || off+EntrySize > uint64(len(b)) {
		return Entry{}, false
	}
	e := decodeEntry(b, slot, off)
	if e.Type == TypeFree || e.Gen != gen {
		return Entry{}, false
	}
	return e, true
}

// Claim stores a new entry and returns it. If no slot is free a new block
// is allocated; on error nothing is changed except possibly an extra empty
// block.
func (d *Directory) Claim(name string, typ Type, value, size uint64) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return Entry{}, err
	}
	if _, dup := d.index[name]; dup {
		return Entry{}, ErrDuplicateName
	}

	var slot uint32
	if d.free.IsEmpty() {
		s, err := d.addBlock()
		if err != nil {
			return Entry{}, err
		}
		slot = s
	} else {
		slot = d.free.Minimum()
	}

	off, _ := d.offset(slot)
	b := d.space.Bytes()
	e := b[off : off+EntrySize]
	gen := binary.LittleEndian.Uint32(e[offGen:])
	if gen == 0 {
		gen = 1
	}
	clear(e[:nameSize])
	copy(e, name)
	binary.LittleEndian.PutUint32(e[offHash:], hash.Name([]byte(name)))
	binary.LittleEndian.PutUint32(e[offGen:], gen)
	StoreValue(b, off, value)
	binary.LittleEndian.PutUint64(e[offSize:], size)
	// The type tag publishes the entry.
	binary.LittleEndian.PutUint32(e[offType:], uint32(typ))

	d.free.Remove(slot)
	d.index[name] = slot
	d.space.SetVariableCount(d.space.VariableCount() + 1)
	d.epoch = d.space.BumpEpoch()

	return decodeEntry(b, slot, off), nil
}

// addBlock links a new block with as many slots as the last one and returns
// its first slot.
func (d *Directory) addBlock() (uint32, error) {
	last := d.blocks[len(d.blocks)-1]
	slots := last.slots
	base := uint64(last.base) + last.slots
	if base+slots > math.MaxUint32 {
		return 0, corrupt(last.off, "slot numbers exhausted")
	}

	off, err := d.alloc.Alloc(BlockSize(slots))
	if err != nil {
		return 0, err
	}
	// Alloc may have remapped.
	b := d.space.Bytes()
	FormatBlock(b[off:], slots)
	binary.LittleEndian.PutUint64(b[last.off+offBlockNext:], off)

	d.blocks = append(d.blocks, block{off: off, slots: slots, base: uint32(base)})
	d.free.AddRange(base, base+slots)
	return uint32(base), nil
}

// Release frees the live entry at slot and returns its last contents.
func (d *Directory) Release(slot, gen uint32) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return Entry{}, err
	}
	old, err := d.live(slot, gen)
	if err != nil {
		return Entry{}, err
	}

	b := d.space.Bytes()
	e := b[old.Offset : old.Offset+EntrySize]
	binary.LittleEndian.PutUint32(e[offType:], uint32(TypeFree))
	next := old.Gen + 1
	if next == 0 {
		next = 1
	}
	binary.LittleEndian.PutUint32(e[offGen:], next)
	clear(e[:nameSize])
	binary.LittleEndian.PutUint32(e[offHash:], 0)
	StoreValue(b, old.Offset, 0)
	binary.LittleEndian.PutUint64(e[offSize:], 0)

	delete(d.index, old.Name)
	d.free.Add(slot)
	d.space.SetVariableCount(d.space.VariableCount() - 1)
	d.epoch = d.space.BumpEpoch()
	return old, nil
}

// SetValue updates the value word and size of the live entry at slot.
func (d *Directory) SetValue(slot, gen uint32, value, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return err
	}
	e, err := d.live(slot, gen)
	if err != nil {
		return err
	}
	b := d.space.Bytes()
	StoreValue(b, e.Offset, value)
	binary.LittleEndian.PutUint64(b[e.Offset+offSize:], size)
	return nil
}

// Range calls fn for every live entry in slot order until fn returns false.
func (d *Directory) Range(fn func(Entry) bool) error {
	d.mu.Lock()
	if err := d.load(); err != nil {
		d.mu.Unlock()
		return err
	}
	var entries []Entry
	b := d.space.Bytes()
	for _, blk := range d.blocks {
		for i := range blk.slots {
			e := decodeEntry(b, blk.base+uint32(i), blk.off+BlockHeaderSize+i*EntrySize)
			if e.Type != TypeFree {
				entries = append(entries, e)
			}
		}
	}
	d.mu.Unlock()

	for _, e := range entries {
		if !fn(e) {
			return nil
		}
	}
	return nil
}

// Len returns the number of live entries.
func (d *Directory) Len() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return 0, err
	}
	return len(d.index), nil
}

// Capacity returns the total number of slots across all blocks.
func (d *Directory) Capacity() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return 0, err
	}
	var n uint64
	for _, blk := range d.blocks {
		n += blk.slots
	}
	return n, nil
}

// ExtraBlocks returns the offsets of the blocks allocated after the first one.
func (d *Directory) ExtraBlocks() ([]uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return nil, err
	}
	offs := make([]uint64, 0, len(d.blocks)-1)
	for _, blk := range d.blocks[1:] {
		offs = append(offs, blk.off)
	}
	return offs, nil
}

// Scan finds name by a linear pass over every slot, comparing name hashes
// before names. It does not use the index.
func (d *Directory) Scan(name string) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return Entry{}, err
	}
	return d.scan(name)
}

func (d *Directory) scan(name string) (Entry, error) {
	h := hash.Name([]byte(name))
	b := d.space.Bytes()
	for _, blk := range d.blocks {
		for i := range blk.slots {
			off := blk.off + BlockHeaderSize + i*EntrySize
			if binary.LittleEndian.Uint32(b[off+offHash:]) != h {
				continue
			}
			e := decodeEntry(b, blk.base+uint32(i), off)
			if e.Type != TypeFree && e.Name == name {
				return e, nil
			}
		}
	}
	return Entry{}, ErrNotFound
}

// Verify rebuilds the index from the file and cross-checks it: names are
// unique, the index agrees with a linear scan and the persisted variable
// count matches the number of live entries.
func (d *Directory) Verify() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.built = false
	if err := d.rebuild(); err != nil {
		return err
	}
	for name, slot := range d.index {
		e, err := d.scan(name)
		if err != nil || e.Slot != slot {
			return corrupt(e.Offset, "index and scan disagree on %q", name)
		}
	}
	if count := d.space.VariableCount(); count != uint64(len(d.index)) {
		return corrupt(0, "variable count %d, found %d live entries", count, len(d.index))
	}
	return nil
}
