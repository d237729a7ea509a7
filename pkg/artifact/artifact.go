// Package artifact defines the compiled-code artifact: the unit the code
// generator produces and the runtime consumes. An artifact owns one
// immutable code blob with the safepoint table embedded at a known offset,
// and is content-addressed by the hash of its code.
package artifact

import (
	"crypto/sha256"
	"fmt"

	"github.com/chazu/stackmap/pkg/safepoint"
)

// Artifact is one compiled function: machine code with trailing metadata.
// Code is write-once; nothing may mutate it after construction.
type Artifact struct {
	Name            string   `cbor:"name"`
	Code            []byte   `cbor:"code"`
	SafepointOffset int      `cbor:"safepoint_offset"`
	Hash            [32]byte `cbor:"hash"`
}

// New builds an artifact over an emitted code blob and stamps its content
// hash. safepointOffset is the table offset returned by Builder.Emit.
func New(name string, code []byte, safepointOffset int) (*Artifact, error) {
	a := &Artifact{
		Name:            name,
		Code:            code,
		SafepointOffset: safepointOffset,
		Hash:            sha256.Sum256(code),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the structural invariants an artifact must satisfy
// before any reader is constructed over it.
func (a *Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact has no name")
	}
	if a.SafepointOffset < 0 || a.SafepointOffset >= len(a.Code) {
		return fmt.Errorf("artifact %q: safepoint offset %d outside code of %d bytes",
			a.Name, a.SafepointOffset, len(a.Code))
	}
	if a.SafepointOffset%safepoint.MetadataAlignment != 0 {
		return fmt.Errorf("artifact %q: safepoint offset %d not aligned to %d",
			a.Name, a.SafepointOffset, safepoint.MetadataAlignment)
	}
	if a.Hash != sha256.Sum256(a.Code) {
		return fmt.Errorf("artifact %q: content hash does not match code", a.Name)
	}
	return nil
}

// Table constructs the safepoint view over the artifact's code. The view
// is transient; callers construct it whenever they need metadata.
func (a *Artifact) Table() *safepoint.Table {
	return safepoint.NewTable(a.Code, a.SafepointOffset)
}
