package safepoint

import "fmt"

// EntryConfig describes how entries of one table are laid out on the wire.
// It is packed into the 32-bit configuration word of the table header:
//
//	bit  0      has_deopt_data
//	bits 1-3    register_indexes_size (bytes per register bitmask, 0-4)
//	bits 4-6    pc_size               (bytes per pc and trampoline, 0-4)
//	bits 7-9    deopt_index_size      (bytes per deopt index, 0-4)
//	bits 10-31  tagged_slots_bytes    (bytes per slot bitmap)
//
// Field widths are chosen per table from the maximum observed values, so
// most tables spend one or two bytes per field.
type EntryConfig struct {
	HasDeoptData     bool
	RegistersSize    int
	PcSize           int
	DeoptIndexSize   int
	TaggedSlotsBytes int
}

const (
	registersSizeShift    = 1
	pcSizeShift           = 4
	deoptIndexSizeShift   = 7
	taggedSlotsBytesShift = 10

	fieldSizeBits    = 3
	fieldSizeMax     = 1<<fieldSizeBits - 1
	taggedSlotsBits  = 32 - taggedSlotsBytesShift
	taggedSlotsLimit = 1<<taggedSlotsBits - 1
)

// pack encodes the configuration into the header word. A configuration
// whose fields do not fit the bit layout means the function exceeded the
// supported size limits; that is a build-time invariant violation.
func (c EntryConfig) pack() uint32 {
	if c.RegistersSize < 0 || c.RegistersSize > fieldSizeMax ||
		c.PcSize < 0 || c.PcSize > fieldSizeMax ||
		c.DeoptIndexSize < 0 || c.DeoptIndexSize > fieldSizeMax ||
		c.TaggedSlotsBytes < 0 || c.TaggedSlotsBytes > taggedSlotsLimit {
		panic(fmt.Sprintf("safepoint: entry configuration out of range: %+v", c))
	}
	var w uint32
	if c.HasDeoptData {
		w |= 1
	}
	w |= uint32(c.RegistersSize) << registersSizeShift
	w |= uint32(c.PcSize) << pcSizeShift
	w |= uint32(c.DeoptIndexSize) << deoptIndexSizeShift
	w |= uint32(c.TaggedSlotsBytes) << taggedSlotsBytesShift
	return w
}

// unpackConfig decodes a header word.
func unpackConfig(w uint32) EntryConfig {
	return EntryConfig{
		HasDeoptData:     w&1 != 0,
		RegistersSize:    int(w >> registersSizeShift & fieldSizeMax),
		PcSize:           int(w >> pcSizeShift & fieldSizeMax),
		DeoptIndexSize:   int(w >> deoptIndexSizeShift & fieldSizeMax),
		TaggedSlotsBytes: int(w >> taggedSlotsBytesShift),
	}
}

// entrySize returns the wire stride of one entry, excluding the slot
// bitmap (bitmaps for all entries follow the entry array).
func (c EntryConfig) entrySize() int {
	n := c.PcSize + c.RegistersSize
	if c.HasDeoptData {
		n += c.DeoptIndexSize + c.PcSize
	}
	return n
}
