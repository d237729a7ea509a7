// Package safepoint encodes and decodes safepoint tables: compact,
// per-function side tables that tell the garbage collector and the
// deoptimizer, for every instruction offset at which execution may be
// interrupted, which machine registers and stack slots hold tagged
// references, and where the deoptimization trampoline for that point lives.
//
// The format is designed for:
//   - Compact representation (field widths are chosen per table, so small
//     functions pay one or two bytes per field instead of four)
//   - Fast lookup (fixed stride per entry, O(1) decode by index)
//   - Zero-copy reading (the table is parsed in place inside the code blob)
//
// # Architecture Overview
//
// Three pieces cooperate:
//
//   - Builder: accumulates one entry per safepoint during code generation,
//     in strictly increasing pc order. Deoptimization metadata is attached
//     after the fact via UpdateDeoptimizationInfo once trampolines have
//     been generated. Emit collapses duplicate entries, trims the
//     always-dead prefix of the slot range, picks minimal field widths,
//     and writes the final table through an asm.Buffer.
//
//   - Table: a stateless read-only view over the emitted bytes. FindEntry
//     resolves an arbitrary pc offset, including offsets inside a
//     deoptimization trampoline, back to the owning entry. Lookups never
//     fail recoverably: a miss is an invariant violation and panics.
//
//   - SafepointEntry: the decoded metadata for one safepoint, a plain
//     value copied freely.
//
// # Lifecycle
//
// Building is single-threaded: one code-generation pass, one Builder.
// Emit releases the builder's entry storage; the builder must not be used
// afterwards. The emitted bytes are immutable and may be read concurrently
// by any number of Table views for the lifetime of the owning code object.
package safepoint
