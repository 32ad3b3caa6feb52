package cmake

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/jmorganca/ggml-sys/backend"
)

// StampName is the file in each build root recording the configuration the
// tree was configured with.
const StampName = "ggml-sys.stamp"

// Stamp is everything that decides the contents of a native build tree.
type Stamp struct {
	Source string          `cbor:"1,keyasint"`
	Config backend.Config  `cbor:"2,keyasint"`
	CPU    backend.Defines `cbor:"3,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Encode returns the deterministic CBOR encoding of s.
func (s Stamp) Encode() ([]byte, error) {
	return encMode.Marshal(s)
}

// Fingerprint is the hex prefix of the SHA-256 of the stamp encoding. Equal
// configurations always share a fingerprint and different ones never do in
// practice, so it can key the build directory.
func (s Stamp) Fingerprint() (string, error) {
	b, err := s.Encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:12], nil
}

// ReadStamp loads the stamp from a build root. A root without a stamp
// returns os.ErrNotExist.
func ReadStamp(root string) (Stamp, error) {
	var s Stamp
	b, err := os.ReadFile(filepath.Join(root, StampName))
	if err != nil {
		return s, err
	}
	if err := cbor.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode %s: %w", StampName, err)
	}
	return s, nil
}

func writeStamp(root string, s Stamp) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, StampName), b, 0o644)
}

func stampExists(root string) bool {
	_, err := os.Stat(filepath.Join(root, StampName))
	return !errors.Is(err, os.ErrNotExist)
}
