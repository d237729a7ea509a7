package safepoint

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"
)

// MetadataAlignment is the byte alignment the table requires within the
// code blob. Emit pads up to it before writing the header.
const MetadataAlignment = 4

// Table header layout, all fields little-endian.
const (
	lengthOffset = 0 // int32 entry count
	configOffset = 4 // uint32 packed EntryConfig
	headerSize   = 8
)

// Table is a read-only view over an emitted safepoint table embedded in a
// code blob. It copies nothing, holds no ownership, and may be
// reconstructed at any time; the blob must never be mutated once emitted.
type Table struct {
	code       []byte
	tableStart int
	length     int
	config     EntryConfig
}

// NewTable parses the table header at tableOffset within code. Pc offsets
// passed to lookups are relative to the start of code, matching the
// offsets the builder recorded during generation.
func NewTable(code []byte, tableOffset int) *Table {
	if tableOffset < 0 || tableOffset+headerSize > len(code) {
		panic(fmt.Sprintf("safepoint: table offset %#x outside code blob of %d bytes", tableOffset, len(code)))
	}
	return &Table{
		code:       code,
		tableStart: tableOffset,
		length:     int(int32(binary.LittleEndian.Uint32(code[tableOffset+lengthOffset:]))),
		config:     unpackConfig(binary.LittleEndian.Uint32(code[tableOffset+configOffset:])),
	}
}

// Length returns the entry count.
func (t *Table) Length() int {
	return t.length
}

// HasDeoptData reports whether any entry in the table carries
// deoptimization metadata.
func (t *Table) HasDeoptData() bool {
	return t.config.HasDeoptData
}

// ByteSize returns the total encoded size of the table.
func (t *Table) ByteSize() int {
	return headerSize + t.length*(t.config.entrySize()+t.config.TaggedSlotsBytes)
}

func (t *Table) entriesStart() int {
	return t.tableStart + headerSize
}

func (t *Table) slotsStart() int {
	return t.entriesStart() + t.length*t.config.entrySize()
}

// Entry decodes entry i. O(1): the stride and field offsets follow from
// the header configuration alone.
func (t *Table) Entry(i int) SafepointEntry {
	if i < 0 || i >= t.length {
		panic(fmt.Sprintf("safepoint: entry index %d out of range [0,%d)", i, t.length))
	}
	p := t.entriesStart() + i*t.config.entrySize()
	var e SafepointEntry
	e.pc = t.readField(&p, t.config.PcSize)
	if t.config.HasDeoptData {
		// Wire values carry a +1 bias; zero means absent.
		deoptWire := t.readField(&p, t.config.DeoptIndexSize)
		trampolineWire := t.readField(&p, t.config.PcSize)
		if (deoptWire == 0) != (trampolineWire == 0) {
			panic(fmt.Sprintf("safepoint: entry %d has deopt index and trampoline out of sync", i))
		}
		if deoptWire != 0 {
			e.hasDeopt = true
			e.deoptIndex = deoptWire - 1
			e.trampoline = trampolineWire - 1
		}
	}
	e.registers = uint32(t.readField(&p, t.config.RegistersSize))

	s := t.slotsStart() + i*t.config.TaggedSlotsBytes
	e.taggedSlots = t.code[s : s+t.config.TaggedSlotsBytes]
	return e
}

// readField reads a little-endian field of the given width at *p and
// advances *p past it.
func (t *Table) readField(p *int, bytes int) int {
	v := 0
	for i := 0; i < bytes; i++ {
		v |= int(t.code[*p+i]) << uint(8*i)
	}
	*p += bytes
	return v
}

// FindEntry resolves pcOffset to its safepoint entry.
//
// If the table carries deopt data, trampolines take precedence: execution
// redirected through a deoptimization trampoline must resolve to the
// original safepoint's metadata. Trampoline offsets are ascending, so the
// scan keeps the last trampoline at or below pcOffset and stops at the
// first one beyond it.
//
// Otherwise the match is the floor by pc: the last entry whose pc does not
// exceed pcOffset. Duplicate removal relies on exactly these semantics.
//
// A miss is an invariant violation (the address was never registered as a
// safepoint, or the table is corrupt) and panics.
func (t *Table) FindEntry(pcOffset int) SafepointEntry {
	if t.config.HasDeoptData {
		candidate := -1
		for i := 0; i < t.length; i++ {
			trampoline, ok := t.Entry(i).TrampolinePC()
			if !ok {
				continue
			}
			if trampoline <= pcOffset {
				candidate = i
			} else {
				break
			}
		}
		if candidate != -1 {
			return t.Entry(candidate)
		}
	}

	for i := 0; i < t.length; i++ {
		if i == t.length-1 || t.Entry(i+1).pc > pcOffset {
			e := t.Entry(i)
			if e.pc > pcOffset {
				break
			}
			return e
		}
	}
	panic(fmt.Sprintf("safepoint: no entry for pc offset %#x", pcOffset))
}

// FindReturnPC returns the pc of the entry whose pc or trampoline equals
// pcOffset. Panics if no entry matches: only an address that was never
// registered can miss, which indicates a bug in the caller.
func (t *Table) FindReturnPC(pcOffset int) int {
	for i := 0; i < t.length; i++ {
		e := t.Entry(i)
		if trampoline, ok := e.TrampolinePC(); ok && trampoline == pcOffset {
			return e.pc
		}
		if e.pc == pcOffset {
			return e.pc
		}
	}
	panic(fmt.Sprintf("safepoint: no entry with pc or trampoline %#x", pcOffset))
}

// Dump returns a human-readable listing of the table. Diagnostic only; the
// format is not stable across versions.
func (t *Table) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; Safepoints (entries = %d, byte size = %d)\n", t.length, t.ByteSize())
	for i := 0; i < t.length; i++ {
		e := t.Entry(i)
		fmt.Fprintf(&sb, "%06x", e.pc)

		if len(e.taggedSlots) > 0 {
			sb.WriteString("  slots (sp->fp): ")
			for _, b := range e.taggedSlots {
				for bit := 0; bit < 8; bit++ {
					fmt.Fprintf(&sb, "%d", b>>uint(bit)&1)
				}
			}
		}

		if e.registers != 0 {
			sb.WriteString("  registers: ")
			for j := bits.Len32(e.registers) - 1; j >= 0; j-- {
				fmt.Fprintf(&sb, "%d", e.registers>>uint(j)&1)
			}
		}

		if deopt, ok := e.DeoptIndex(); ok {
			trampoline, _ := e.TrampolinePC()
			fmt.Fprintf(&sb, "  deopt %6d trampoline: %6x", deopt, trampoline)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
