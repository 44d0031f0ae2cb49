package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/wippyai/contract-vm/errors"
)

// Artifact blob layout:
//
//	magic "CVMA" | format u16 BE | sha256(payload) | payload
//	payload = info length u32 BE | info JSON | instrumented module
var artifactMagic = []byte("CVMA")

// ArtifactFormat is bumped whenever the blob layout or instrumentation
// changes; older blobs are recompiled.
const ArtifactFormat uint16 = 1

const artifactHeaderSize = 4 + 2 + sha256.Size

func encodeArtifact(info *Info, module []byte) ([]byte, error) {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidInput, err, "encode artifact info")
	}
	payload := make([]byte, 0, 4+len(infoJSON)+len(module))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(infoJSON)))
	payload = append(payload, infoJSON...)
	payload = append(payload, module...)

	sum := sha256.Sum256(payload)
	blob := make([]byte, 0, artifactHeaderSize+len(payload))
	blob = append(blob, artifactMagic...)
	blob = binary.BigEndian.AppendUint16(blob, ArtifactFormat)
	blob = append(blob, sum[:]...)
	return append(blob, payload...), nil
}

func corrupt(format string, args ...any) error {
	return errors.New(errors.PhaseCache, errors.KindInvalidInput).
		Detail("corrupt artifact: "+format, args...).
		Build()
}

func decodeArtifact(blob []byte) (*Info, []byte, error) {
	if len(blob) < artifactHeaderSize+4 {
		return nil, nil, corrupt("%d bytes is shorter than the header", len(blob))
	}
	if !bytes.Equal(blob[:4], artifactMagic) {
		return nil, nil, corrupt("bad magic %q", blob[:4])
	}
	if v := binary.BigEndian.Uint16(blob[4:6]); v != ArtifactFormat {
		return nil, nil, corrupt("format %d, want %d", v, ArtifactFormat)
	}
	payload := blob[artifactHeaderSize:]
	if sum := sha256.Sum256(payload); !bytes.Equal(sum[:], blob[6:artifactHeaderSize]) {
		return nil, nil, corrupt("payload digest mismatch")
	}
	n := binary.BigEndian.Uint32(payload)
	if uint64(n) > uint64(len(payload)-4) {
		return nil, nil, corrupt("info length %d overruns payload", n)
	}
	var info Info
	if err := json.Unmarshal(payload[4:4+n], &info); err != nil {
		return nil, nil, corrupt("info: %v", err)
	}
	module := payload[4+n:]
	if len(module) == 0 {
		return nil, nil, corrupt("empty module")
	}
	return &info, module, nil
}

// IsCorrupt reports whether err came from decoding a damaged artifact.
func IsCorrupt(err error) bool {
	e, ok := errors.As(err)
	return ok && e.Phase == errors.PhaseCache && e.Kind == errors.KindInvalidInput
}

func (m *Module) String() string {
	return fmt.Sprintf("module %s (%d bytes)", m.Checksum.Short(), len(m.code))
}
