package index

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/viant/memvec/model"
)

const snapshotMagic = "MVX1"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Snapshot is a persisted index image tagged with the store generation it
// was taken at.
type Snapshot struct {
	Kind       Kind
	Generation int64
	Data       []byte
}

// EncodeSnapshot serializes idx and compresses it.
// Layout: magic(4) kindLen(1) kind generation(int64) zstd(payload).
func EncodeSnapshot(idx Index, kind Kind, generation int64) ([]byte, error) {
	raw, err := idx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)/2+32)
	out = append(out, snapshotMagic...)
	out = append(out, byte(len(kind)))
	out = append(out, kind...)
	out = binary.LittleEndian.AppendUint64(out, uint64(generation))
	return encoder.EncodeAll(raw, out), nil
}

// DecodeSnapshot parses a blob written by EncodeSnapshot.
func DecodeSnapshot(blob []byte) (*Snapshot, error) {
	if len(blob) < len(snapshotMagic)+1 || string(blob[:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: index snapshot: bad header", model.ErrCorrupted)
	}
	off := 4
	kl := int(blob[off])
	off++
	if off+kl+8 > len(blob) {
		return nil, fmt.Errorf("%w: index snapshot: truncated", model.ErrCorrupted)
	}
	kind := Kind(blob[off : off+kl])
	off += kl
	gen := int64(binary.LittleEndian.Uint64(blob[off : off+8]))
	off += 8
	data, err := decoder.DecodeAll(blob[off:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: index snapshot: %v", model.ErrCorrupted, err)
	}
	return &Snapshot{Kind: kind, Generation: gen, Data: data}, nil
}

// Load materializes the snapshot into a fresh index.
func (s *Snapshot) Load() (Index, error) {
	idx := New(s.Kind, 0)
	if err := idx.UnmarshalBinary(s.Data); err != nil {
		return nil, fmt.Errorf("%w: index snapshot: %v", model.ErrCorrupted, err)
	}
	return idx, nil
}
