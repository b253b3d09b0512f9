package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Retain-memory persistence (canonical CBOR)
// ---------------------------------------------------------------------------

// cborEncMode uses canonical options so retain images are
// byte-deterministic for a given memory state.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("engine: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// retainImage is the on-disk shape of retain memory.
type retainImage struct {
	SavedAt time.Time     `cbor:"1,keyasint"`
	Entries []retainEntry `cbor:"2,keyasint"`
}

// retainEntry preserves declaration order, which a map would lose.
type retainEntry struct {
	Name  string `cbor:"1,keyasint"`
	Value Value  `cbor:"2,keyasint"`
}

// MarshalRetain serializes a retain table to CBOR bytes.
func MarshalRetain(vt *VarTable) ([]byte, error) {
	img := retainImage{SavedAt: time.Now()}
	for _, name := range vt.Names() {
		v, _ := vt.Get(name)
		img.Entries = append(img.Entries, retainEntry{Name: name, Value: v})
	}
	return cborEncMode.Marshal(&img)
}

// UnmarshalRetain deserializes a retain table from CBOR bytes.
func UnmarshalRetain(data []byte) (*VarTable, error) {
	var img retainImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("engine: unmarshal retain image: %w", err)
	}
	vt := NewVarTable()
	for _, e := range img.Entries {
		vt.Set(e.Name, e.Value)
	}
	return vt, nil
}

// SaveRetain writes retain memory to path atomically (write to a
// temp file, then rename).
func SaveRetain(path string, vt *VarTable) error {
	data, err := MarshalRetain(vt)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("engine: write retain image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("engine: commit retain image: %w", err)
	}
	return nil
}

// LoadRetain reads retain memory from path. A missing file is not an
// error: it yields an empty table (cold start).
func LoadRetain(path string) (*VarTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewVarTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read retain image: %w", err)
	}
	return UnmarshalRetain(data)
}
