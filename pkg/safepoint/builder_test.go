package safepoint

import (
	"testing"

	"github.com/chazu/stackmap/pkg/asm"
)

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	f()
}

func TestBuilderRoundTrip(t *testing.T) {
	buf := asm.NewBuffer()
	buf.Bytes(make([]byte, 12)) // stand-in instruction bytes

	b := NewBuilder()
	sp0 := b.DefineSafepoint(0)
	sp0.DefineTaggedRegister(1)
	sp0.DefineTaggedStackSlot(2)

	sp1 := b.DefineSafepoint(4)
	sp1.DefineTaggedStackSlot(0)
	sp1.DefineTaggedStackSlot(3)

	b.DefineSafepoint(8)
	if idx := b.UpdateDeoptimizationInfo(8, 100, 0, 2); idx != 2 {
		t.Errorf("UpdateDeoptimizationInfo returned index %d, want 2", idx)
	}

	off := b.Emit(buf, 6)
	table := NewTable(buf.Code(), off)

	if table.Length() != 3 {
		t.Fatalf("Length() = %d, want 3", table.Length())
	}
	if !table.HasDeoptData() {
		t.Error("HasDeoptData() = false, want true")
	}

	e0 := table.Entry(0)
	if e0.Pc() != 0 {
		t.Errorf("entry 0 pc = %d, want 0", e0.Pc())
	}
	if e0.HasDeoptIndex() {
		t.Error("entry 0 has a deopt index, want none")
	}
	if e0.TaggedRegisters() != 1<<1 {
		t.Errorf("entry 0 registers = %#x, want %#x", e0.TaggedRegisters(), 1<<1)
	}
	if !e0.HasTaggedSlot(2, 6) || e0.HasTaggedSlot(1, 6) || e0.HasTaggedSlot(0, 6) {
		t.Errorf("entry 0 slot bits wrong: bitmap %v", e0.TaggedSlots())
	}

	e1 := table.Entry(1)
	if e1.Pc() != 4 {
		t.Errorf("entry 1 pc = %d, want 4", e1.Pc())
	}
	if !e1.HasTaggedSlot(0, 6) || !e1.HasTaggedSlot(3, 6) || e1.HasTaggedSlot(2, 6) {
		t.Errorf("entry 1 slot bits wrong: bitmap %v", e1.TaggedSlots())
	}

	e2 := table.Entry(2)
	if deopt, ok := e2.DeoptIndex(); !ok || deopt != 2 {
		t.Errorf("entry 2 deopt index = %d,%v, want 2,true", deopt, ok)
	}
	if trampoline, ok := e2.TrampolinePC(); !ok || trampoline != 100 {
		t.Errorf("entry 2 trampoline = %d,%v, want 100,true", trampoline, ok)
	}
}

func TestEmitEmptyTable(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()
	off := b.Emit(buf, 0)

	table := NewTable(buf.Code(), off)
	if table.Length() != 0 {
		t.Errorf("Length() = %d, want 0", table.Length())
	}
	if table.ByteSize() != 8 {
		t.Errorf("ByteSize() = %d, want 8 (header only)", table.ByteSize())
	}
	mustPanic(t, "FindEntry on empty table", func() { table.FindEntry(0) })
}

func TestEmitAligns(t *testing.T) {
	buf := asm.NewBuffer()
	buf.Bytes([]byte{1, 2, 3}) // leave the buffer misaligned

	b := NewBuilder()
	b.DefineSafepoint(0)
	off := b.Emit(buf, 0)
	if off%MetadataAlignment != 0 {
		t.Errorf("table offset %d not aligned to %d", off, MetadataAlignment)
	}
}

func TestRemoveDuplicates(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()

	// pc 0 and pc 4 carry identical metadata; pc 8 differs.
	b.DefineSafepoint(0).DefineTaggedStackSlot(1)
	b.DefineSafepoint(4).DefineTaggedStackSlot(1)
	b.DefineSafepoint(8).DefineTaggedRegister(3)

	off := b.Emit(buf, 2)
	table := NewTable(buf.Code(), off)

	if table.Length() != 2 {
		t.Fatalf("Length() = %d after dedup, want 2", table.Length())
	}
	if table.Entry(0).Pc() != 0 || table.Entry(1).Pc() != 8 {
		t.Errorf("kept pcs = %d,%d, want 0,8", table.Entry(0).Pc(), table.Entry(1).Pc())
	}
	// Any pc in the collapsed range floor-matches the representative.
	for _, pc := range []int{0, 1, 4, 7} {
		e := table.FindEntry(pc)
		if e.Pc() != 0 {
			t.Errorf("FindEntry(%d).Pc() = %d, want 0", pc, e.Pc())
		}
		if !e.HasTaggedSlot(0, 1) {
			t.Errorf("FindEntry(%d) lost slot metadata", pc)
		}
	}
}

func TestDuplicatesWithDifferentDeoptNotMerged(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()
	b.DefineSafepoint(0)
	b.DefineSafepoint(4)
	b.UpdateDeoptimizationInfo(0, 10, 0, 0)
	b.UpdateDeoptimizationInfo(4, 14, 0, 1)

	off := b.Emit(buf, 0)
	table := NewTable(buf.Code(), off)
	if table.Length() != 2 {
		t.Errorf("Length() = %d, want 2 (deopt entries must not merge)", table.Length())
	}
}

func TestTrimEntries(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()
	sp := b.DefineSafepoint(0)
	sp.DefineTaggedStackSlot(3)
	sp.DefineTaggedStackSlot(5)

	// Minimum used index is 3, so the slot range 0..7 trims to 0..4 and
	// the used indexes shift down to 0 and 2.
	off := b.Emit(buf, 8)
	table := NewTable(buf.Code(), off)

	e := table.Entry(0)
	if len(e.TaggedSlots()) != 1 {
		t.Fatalf("bitmap is %d bytes, want 1 after trimming", len(e.TaggedSlots()))
	}
	if !e.HasTaggedSlot(0, 5) || !e.HasTaggedSlot(2, 5) || e.HasTaggedSlot(1, 5) {
		t.Errorf("trimmed slot bits wrong: bitmap %08b", e.TaggedSlots()[0])
	}
}

func TestTrimEntriesNoopWhenSlotZeroUsed(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()
	sp := b.DefineSafepoint(0)
	sp.DefineTaggedStackSlot(0)
	sp.DefineTaggedStackSlot(9)

	off := b.Emit(buf, 10)
	table := NewTable(buf.Code(), off)

	e := table.Entry(0)
	if len(e.TaggedSlots()) != 2 {
		t.Fatalf("bitmap is %d bytes, want 2 (no trim)", len(e.TaggedSlots()))
	}
	if !e.HasTaggedSlot(0, 10) || !e.HasTaggedSlot(9, 10) {
		t.Errorf("slot bits wrong: bitmap %v", e.TaggedSlots())
	}
}

func TestWideFields(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()
	b.DefineSafepoint(0x90).DefineTaggedRegister(9)
	b.DefineSafepoint(0x12345)
	b.UpdateDeoptimizationInfo(0x12345, 0x20000, 0, 0x100)

	off := b.Emit(buf, 0)
	table := NewTable(buf.Code(), off)

	e0 := table.Entry(0)
	if e0.Pc() != 0x90 || e0.TaggedRegisters() != 1<<9 {
		t.Errorf("entry 0 = pc %#x regs %#x, want pc 0x90 regs %#x", e0.Pc(), e0.TaggedRegisters(), 1<<9)
	}
	e1 := table.Entry(1)
	if e1.Pc() != 0x12345 {
		t.Errorf("entry 1 pc = %#x, want 0x12345", e1.Pc())
	}
	if deopt, ok := e1.DeoptIndex(); !ok || deopt != 0x100 {
		t.Errorf("entry 1 deopt = %#x,%v, want 0x100,true", deopt, ok)
	}
	if trampoline, ok := e1.TrampolinePC(); !ok || trampoline != 0x20000 {
		t.Errorf("entry 1 trampoline = %#x,%v, want 0x20000,true", trampoline, ok)
	}
}

func TestUpdateDeoptimizationInfoHint(t *testing.T) {
	b := NewBuilder()
	b.DefineSafepoint(0)
	b.DefineSafepoint(4)
	b.DefineSafepoint(8)

	idx := b.UpdateDeoptimizationInfo(4, 20, 0, 0)
	if idx != 1 {
		t.Errorf("first update returned %d, want 1", idx)
	}
	idx = b.UpdateDeoptimizationInfo(8, 24, idx, 1)
	if idx != 2 {
		t.Errorf("second update returned %d, want 2", idx)
	}

	// pc 0 lies before the hint, so the forward search must miss.
	mustPanic(t, "UpdateDeoptimizationInfo behind hint", func() {
		b.UpdateDeoptimizationInfo(0, 28, 1, 2)
	})
	mustPanic(t, "UpdateDeoptimizationInfo with negative trampoline", func() {
		b.UpdateDeoptimizationInfo(4, -1, 0, 3)
	})
	mustPanic(t, "UpdateDeoptimizationInfo with negative deopt index", func() {
		b.UpdateDeoptimizationInfo(4, 32, 0, -1)
	})
}

func TestEmitRejectsUnorderedPcs(t *testing.T) {
	b := NewBuilder()
	b.DefineSafepoint(8)
	b.DefineSafepoint(4)
	mustPanic(t, "Emit with decreasing pcs", func() {
		b.Emit(asm.NewBuffer(), 0)
	})
}

func TestEmitRejectsTrampolineBelowPcs(t *testing.T) {
	b := NewBuilder()
	b.DefineSafepoint(0)
	b.DefineSafepoint(8)
	b.UpdateDeoptimizationInfo(0, 4, 0, 0) // trampoline inside the pc range
	mustPanic(t, "Emit with low trampoline", func() {
		b.Emit(asm.NewBuffer(), 0)
	})
}

func TestBuilderDeadAfterEmit(t *testing.T) {
	b := NewBuilder()
	b.DefineSafepoint(0)
	b.Emit(asm.NewBuffer(), 0)

	mustPanic(t, "DefineSafepoint after Emit", func() { b.DefineSafepoint(4) })
	mustPanic(t, "Emit after Emit", func() { b.Emit(asm.NewBuffer(), 0) })
}

// The worked example from the format documentation: trimming exposes a
// duplicate run, dedup collapses it, and lookups still resolve correctly.
func TestEmitTrimAndDedupScenario(t *testing.T) {
	buf := asm.NewBuffer()
	b := NewBuilder()
	b.DefineSafepoint(0).DefineTaggedStackSlot(3)
	b.DefineSafepoint(4).DefineTaggedStackSlot(3)
	b.DefineSafepoint(8)
	b.UpdateDeoptimizationInfo(8, 100, 0, 2)

	off := b.Emit(buf, 5)
	table := NewTable(buf.Code(), off)

	if table.Length() != 2 {
		t.Fatalf("Length() = %d, want 2", table.Length())
	}

	e := table.FindEntry(6)
	if e.Pc() != 0 {
		t.Errorf("FindEntry(6).Pc() = %d, want 0", e.Pc())
	}
	if !e.HasTaggedSlot(0, 2) {
		t.Errorf("FindEntry(6) slot 0 not tagged after trim: bitmap %v", e.TaggedSlots())
	}

	e = table.FindEntry(100)
	if e.Pc() != 8 {
		t.Errorf("FindEntry(100).Pc() = %d, want 8", e.Pc())
	}
	if deopt, ok := e.DeoptIndex(); !ok || deopt != 2 {
		t.Errorf("FindEntry(100) deopt = %d,%v, want 2,true", deopt, ok)
	}
}

func TestEntryListAddressStability(t *testing.T) {
	l := &entryList{}
	var handles []*entryBuilder
	for i := 0; i < entryChunkSize*3+5; i++ {
		handles = append(handles, l.append(entryBuilder{pc: i}))
	}
	for i, h := range handles {
		if h.pc != i {
			t.Fatalf("handle %d points at pc %d after growth", i, h.pc)
		}
		if l.at(i) != h {
			t.Fatalf("at(%d) does not return the original element", i)
		}
	}

	l.truncate(entryChunkSize + 1)
	if l.len() != entryChunkSize+1 {
		t.Errorf("len() = %d after truncate, want %d", l.len(), entryChunkSize+1)
	}
	if l.at(entryChunkSize).pc != entryChunkSize {
		t.Errorf("surviving element corrupted by truncate")
	}
}
