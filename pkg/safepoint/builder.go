package safepoint

import (
	"fmt"
	"slices"

	"github.com/chazu/stackmap/pkg/asm"
)

// entryBuilder is the mutable, pre-encoding form of one safepoint entry.
// Deopt metadata defaults to absent; hasDeopt gates trampoline and
// deoptIndex together, so the both-or-neither pairing cannot be violated.
type entryBuilder struct {
	pc           int
	registers    uint32
	stackIndexes []int
	hasDeopt     bool
	trampoline   int
	deoptIndex   int
}

// Safepoint is the handle returned by DefineSafepoint through which the
// code generator records liveness for that exact program point. It stays
// valid until Emit.
type Safepoint struct {
	entry *entryBuilder
}

// DefineTaggedRegister records that machine register code holds a tagged
// reference at this safepoint.
func (s Safepoint) DefineTaggedRegister(code int) {
	s.entry.registers |= 1 << uint(code)
}

// DefineTaggedStackSlot records that logical stack slot index holds a
// tagged reference at this safepoint.
func (s Safepoint) DefineTaggedStackSlot(index int) {
	s.entry.stackIndexes = append(s.entry.stackIndexes, index)
}

// Builder accumulates safepoint entries during a single code-generation
// pass and encodes them into their final form. It is not safe for
// concurrent use and must not be used after Emit.
type Builder struct {
	entries *entryList
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: &entryList{}}
}

// DefineSafepoint appends an entry for the instruction at pcOffset and
// returns the handle used to record its liveness. Callers must define
// safepoints in strictly increasing pc order; Emit verifies this.
func (b *Builder) DefineSafepoint(pcOffset int) Safepoint {
	if b.entries == nil {
		panic("safepoint: builder used after Emit")
	}
	return Safepoint{entry: b.entries.append(entryBuilder{pc: pcOffset})}
}

// UpdateDeoptimizationInfo attaches a trampoline offset and a deopt index
// to the already-recorded entry whose pc equals pc. The search runs
// forward from the hint index start; callers patch entries in ascending pc
// order and feed the returned index back as the next hint, keeping the
// total work linear. Panics if no entry at or after start matches.
func (b *Builder) UpdateDeoptimizationInfo(pc, trampoline, start, deoptIndex int) int {
	if b.entries == nil {
		panic("safepoint: builder used after Emit")
	}
	if trampoline < 0 {
		panic(fmt.Sprintf("safepoint: invalid trampoline pc %d", trampoline))
	}
	if deoptIndex < 0 {
		panic(fmt.Sprintf("safepoint: invalid deopt index %d", deoptIndex))
	}
	for i := start; i < b.entries.len(); i++ {
		e := b.entries.at(i)
		if e.pc != pc {
			continue
		}
		e.hasDeopt = true
		e.trampoline = trampoline
		e.deoptIndex = deoptIndex
		return i
	}
	panic(fmt.Sprintf("safepoint: no entry with pc %#x at or after index %d", pc, start))
}

// Emit finalizes the table and writes it through buf, aligned for metadata.
// taggedSlotsSize is the logical slot count covered by the bitmaps before
// trimming. Returns the table's byte offset within the buffer. The
// builder's entry storage is released; the builder is dead afterwards.
func (b *Builder) Emit(buf *asm.Buffer, taggedSlotsSize int) int {
	if b.entries == nil {
		panic("safepoint: builder used after Emit")
	}
	b.checkOrder()
	b.removeDuplicates()
	b.trimEntries(&taggedSlotsSize)

	buf.Align(MetadataAlignment)
	tableOffset := buf.PCOffset()

	// Compute the maximum value each field has to represent.
	usedRegisters := uint32(0)
	maxPC := -1
	maxDeoptIndex := -1
	hasDeoptData := false
	for i := 0; i < b.entries.len(); i++ {
		e := b.entries.at(i)
		usedRegisters |= e.registers
		maxPC = max(maxPC, e.pc)
		if e.hasDeopt {
			hasDeoptData = true
			maxPC = max(maxPC, e.trampoline)
			maxDeoptIndex = max(maxDeoptIndex, e.deoptIndex)
		}
	}

	// Pc and deopt index are stored with a +1 bias so that zero encodes
	// "absent"; their widths must cover the biased value.
	config := EntryConfig{
		HasDeoptData:     hasDeoptData,
		RegistersSize:    valueToBytes(int(usedRegisters)),
		PcSize:           valueToBytes(maxPC + 1),
		DeoptIndexSize:   valueToBytes(maxDeoptIndex + 1),
		TaggedSlotsBytes: (taggedSlotsSize + 7) / 8,
	}
	word := config.pack()

	buf.Uint32(uint32(b.entries.len()))
	buf.Uint32(word)

	for i := 0; i < b.entries.len(); i++ {
		e := b.entries.at(i)
		emitBytes(buf, e.pc, config.PcSize)
		if hasDeoptData {
			deoptWire, trampolineWire := 0, 0
			if e.hasDeopt {
				deoptWire = e.deoptIndex + 1
				trampolineWire = e.trampoline + 1
			}
			emitBytes(buf, deoptWire, config.DeoptIndexSize)
			emitBytes(buf, trampolineWire, config.PcSize)
		}
		emitBytes(buf, int(e.registers), config.RegistersSize)
	}

	// Slot bitmaps, one per entry, each TaggedSlotsBytes long. Slot
	// numbering is reversed: slot 0 occupies the last bit, matching the
	// sp-to-fp frame growth convention.
	bits := make([]byte, config.TaggedSlotsBytes)
	for i := 0; i < b.entries.len(); i++ {
		clear(bits)
		for _, idx := range b.entries.at(i).stackIndexes {
			if idx >= taggedSlotsSize {
				panic(fmt.Sprintf("safepoint: slot index %d outside slot range %d", idx, taggedSlotsSize))
			}
			bit := taggedSlotsSize - 1 - idx
			bits[bit>>3] |= 1 << uint(bit&7)
		}
		buf.Bytes(bits)
	}

	b.entries = nil
	return tableOffset
}

// checkOrder enforces the accumulation invariants: pc strictly increasing,
// trampoline pcs strictly increasing and beyond every regular pc. A
// violation means the code generator misused the builder, and would
// silently corrupt GC root identification if let through.
func (b *Builder) checkOrder() {
	if b.entries.len() == 0 {
		return
	}
	lastRegularPC := b.entries.at(b.entries.len() - 1).pc
	lastPC := -1
	lastTrampoline := -1
	for i := 0; i < b.entries.len(); i++ {
		e := b.entries.at(i)
		if e.pc <= lastPC {
			panic(fmt.Sprintf("safepoint: entry pc %#x not above previous pc %#x", e.pc, lastPC))
		}
		lastPC = e.pc
		if !e.hasDeopt {
			continue
		}
		if e.trampoline <= lastTrampoline {
			panic(fmt.Sprintf("safepoint: trampoline pc %#x not above previous trampoline %#x",
				e.trampoline, lastTrampoline))
		}
		if e.trampoline <= lastRegularPC {
			panic(fmt.Sprintf("safepoint: trampoline pc %#x not beyond last safepoint pc %#x",
				e.trampoline, lastRegularPC))
		}
		lastTrampoline = e.trampoline
	}
}

// removeDuplicates collapses runs of consecutive entries that are
// identical except for pc into their first member. Lookup floor-matches by
// pc, so every pc in the collapsed range still resolves to the same
// metadata.
func (b *Builder) removeDuplicates() {
	n := b.entries.len()
	if n < 2 {
		return
	}
	keep := 0
	for i := 0; i < n; {
		if keep != i {
			*b.entries.at(keep) = *b.entries.at(i)
		}
		rep := b.entries.at(keep)
		i++
		for i < n && identicalExceptPC(b.entries.at(i), rep) {
			i++
		}
		keep++
	}
	b.entries.truncate(keep)
}

func identicalExceptPC(a, b *entryBuilder) bool {
	if a.hasDeopt != b.hasDeopt {
		return false
	}
	if a.hasDeopt && (a.deoptIndex != b.deoptIndex || a.trampoline != b.trampoline) {
		return false
	}
	if a.registers != b.registers {
		return false
	}
	return slices.Equal(a.stackIndexes, b.stackIndexes)
}

// trimEntries drops the always-dead prefix of the slot range: if no entry
// uses a slot below m, every index shifts down by m and the logical slot
// count shrinks by m, so the dead prefix is never encoded.
func (b *Builder) trimEntries(taggedSlotsSize *int) {
	minIndex := *taggedSlotsSize
	if minIndex == 0 {
		return
	}
	for i := 0; i < b.entries.len(); i++ {
		for _, idx := range b.entries.at(i).stackIndexes {
			if idx >= minIndex {
				continue
			}
			if idx == 0 {
				return
			}
			minIndex = idx
		}
	}

	*taggedSlotsSize -= minIndex
	for i := 0; i < b.entries.len(); i++ {
		indexes := b.entries.at(i).stackIndexes
		for k := range indexes {
			indexes[k] -= minIndex
		}
	}
}

// valueToBytes returns the least byte count in 0..4 able to represent v.
func valueToBytes(v int) int {
	switch {
	case v == 0:
		return 0
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffffff:
		return 3
	default:
		return 4
	}
}

// emitBytes writes v at the given width, least-significant byte first.
func emitBytes(buf *asm.Buffer, v, bytes int) {
	for ; bytes > 0; bytes-- {
		buf.Byte(byte(v))
		v >>= 8
	}
	if v != 0 {
		panic(fmt.Sprintf("safepoint: value %#x does not fit its field width", v))
	}
}
