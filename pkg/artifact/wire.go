package artifact

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical encoding so the same artifact always
// serializes to the same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("artifact: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes an artifact to CBOR bytes.
func Marshal(a *Artifact) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// Unmarshal deserializes an artifact from CBOR bytes and validates it.
func Unmarshal(data []byte) (*Artifact, error) {
	var a Artifact
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("artifact: unmarshal: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	return &a, nil
}
