package safepoint

// SafepointEntry is the decoded metadata for one safepoint. It is a value
// type: entries are copied freely and hold no ownership. The tagged-slot
// bitmap aliases the table's backing bytes and must not be mutated.
type SafepointEntry struct {
	pc          int
	hasDeopt    bool
	trampoline  int
	deoptIndex  int
	registers   uint32
	taggedSlots []byte
}

// Pc returns the byte offset of the safepoint instruction from the start
// of the function's instructions.
func (e SafepointEntry) Pc() int {
	return e.pc
}

// HasDeoptIndex reports whether this entry carries deoptimization
// metadata. Trampoline and deopt index are always present together.
func (e SafepointEntry) HasDeoptIndex() bool {
	return e.hasDeopt
}

// TrampolinePC returns the offset of the deoptimization trampoline for
// this safepoint, if one exists.
func (e SafepointEntry) TrampolinePC() (int, bool) {
	return e.trampoline, e.hasDeopt
}

// DeoptIndex returns the index into the deoptimization-data table for
// this safepoint, if one exists.
func (e SafepointEntry) DeoptIndex() (int, bool) {
	return e.deoptIndex, e.hasDeopt
}

// TaggedRegisters returns the register bitmask: bit i set means machine
// register i holds a tagged reference at this safepoint.
func (e SafepointEntry) TaggedRegisters() uint32 {
	return e.registers
}

// TaggedSlots returns the stack-slot bitmap. Slot numbering is reversed
// against byte order: logical slot 0 occupies the last bit of the bitmap
// (see Builder.Emit). The returned slice aliases the table bytes.
func (e SafepointEntry) TaggedSlots() []byte {
	return e.taggedSlots
}

// HasTaggedSlot reports whether logical slot index is marked tagged.
// taggedSlotsSize is the table-wide logical slot count the bitmap was
// emitted with (after trimming).
func (e SafepointEntry) HasTaggedSlot(index, taggedSlotsSize int) bool {
	if index < 0 || index >= taggedSlotsSize {
		return false
	}
	bit := taggedSlotsSize - 1 - index
	byteIndex := bit >> 3
	if byteIndex >= len(e.taggedSlots) {
		return false
	}
	return e.taggedSlots[byteIndex]&(1<<uint(bit&7)) != 0
}
