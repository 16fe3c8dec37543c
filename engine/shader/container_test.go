package shader

import (
	"encoding/binary"
	"errors"
	"testing"
)

func packBlob(out []byte, blob []byte) []byte {
	out = binary.LittleEndian.AppendUint64(out, uint64(len(blob)))
	return append(out, blob...)
}

func TestDecodeContainerRoundTrip(t *testing.T) {
	vert := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frag := []byte{9, 10, 11, 12}
	data := packBlob(nil, vert)
	data = packBlob(data, frag)

	c, err := DecodeContainer(data)
	if err != nil {
		t.Fatalf("DecodeContainer() error = %v", err)
	}
	if string(c.Vert) != string(vert) {
		t.Errorf("vert = %v, want %v", c.Vert, vert)
	}
	if string(c.Frag) != string(frag) {
		t.Errorf("frag = %v, want %v", c.Frag, frag)
	}

	packed := EncodeContainer(c)
	if string(packed) != string(data) {
		t.Errorf("EncodeContainer() = %v, want %v", packed, data)
	}
}

func TestDecodeContainerRejectsBadInput(t *testing.T) {
	valid := packBlob(packBlob(nil, []byte{1, 2, 3, 4}), []byte{5, 6, 7, 8})

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated vertex prefix", data: valid[:5]},
		{name: "truncated vertex blob", data: valid[:10]},
		{name: "missing fragment stage", data: valid[:12]},
		{name: "truncated fragment blob", data: valid[:22]},
		{name: "trailing bytes", data: append(append([]byte{}, valid...), 0xFF)},
		{
			name: "vertex length overshoots",
			data: packBlob(nil, []byte{1, 2, 3, 4})[:4],
		},
		{
			name: "zero length stage",
			data: packBlob(packBlob(nil, nil), []byte{5, 6, 7, 8}),
		},
		{
			name: "unaligned stage length",
			data: packBlob(packBlob(nil, []byte{1, 2, 3}), []byte{5, 6, 7, 8}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeContainer(tt.data)
			if !errors.Is(err, ErrMalformedContainer) {
				t.Errorf("DecodeContainer() error = %v, want ErrMalformedContainer", err)
			}
		})
	}
}

func TestDecodeContainerHugeDeclaredLength(t *testing.T) {
	data := binary.LittleEndian.AppendUint64(nil, ^uint64(0))
	data = append(data, 1, 2, 3, 4)

	_, err := DecodeContainer(data)
	if !errors.Is(err, ErrMalformedContainer) {
		t.Errorf("DecodeContainer() error = %v, want ErrMalformedContainer", err)
	}
}
