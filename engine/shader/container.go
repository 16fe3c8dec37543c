// Package shader decodes packed shader containers and compiles them into
// render pipelines.
//
// A container is two length-prefixed SPIR-V blobs: a little-endian uint64
// byte length followed by the vertex bytecode, then the same for the
// fragment bytecode. Nothing may follow the fragment blob.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedContainer reports shader source bytes that do not match the
// container schema.
var ErrMalformedContainer = errors.New("shader: malformed container")

// Container holds the two decoded SPIR-V stages.
type Container struct {
	Vert []byte
	Frag []byte
}

// DecodeContainer parses container bytes into their SPIR-V stages.
//
// Parameters:
//   - data: the packed container bytes
//
// Returns:
//   - Container: the decoded vertex and fragment bytecode
//   - error: ErrMalformedContainer (wrapped with detail) if data does not
//     consume exactly as two length-prefixed blobs
func DecodeContainer(data []byte) (Container, error) {
	vert, rest, err := readBlob(data, "vertex")
	if err != nil {
		return Container{}, err
	}
	frag, rest, err := readBlob(rest, "fragment")
	if err != nil {
		return Container{}, err
	}
	if len(rest) != 0 {
		return Container{}, fmt.Errorf("%w: %d trailing bytes after fragment stage", ErrMalformedContainer, len(rest))
	}
	return Container{Vert: vert, Frag: frag}, nil
}

func readBlob(data []byte, stage string) ([]byte, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("%w: truncated %s length prefix", ErrMalformedContainer, stage)
	}
	n := binary.LittleEndian.Uint64(data)
	rest := data[8:]
	if n > uint64(len(rest)) {
		return nil, nil, fmt.Errorf("%w: %s stage declares %d bytes, %d available", ErrMalformedContainer, stage, n, len(rest))
	}
	if n == 0 || n%4 != 0 {
		return nil, nil, fmt.Errorf("%w: %s stage length %d is not valid bytecode", ErrMalformedContainer, stage, n)
	}
	return rest[:n], rest[n:], nil
}

// EncodeContainer packs vertex and fragment bytecode into container bytes.
//
// Parameters:
//   - c: the stages to pack
//
// Returns:
//   - []byte: the packed container
func EncodeContainer(c Container) []byte {
	out := make([]byte, 0, 16+len(c.Vert)+len(c.Frag))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(c.Vert)))
	out = append(out, c.Vert...)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(c.Frag)))
	out = append(out, c.Frag...)
	return out
}
