// Package snapshot packs the vector store and ledger dumps into one
// compressed payload and restores both from it.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"corpora/internal/corpus"
)

const (
	magic   = "CSNP"
	version = uint16(1)

	// maxDecoded caps decompression of untrusted payloads.
	maxDecoded = 4 << 30
)

// Pack lays out magic, version and two length-prefixed sections, then
// compresses the whole frame.
func Pack(vectorDump, recordDump []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(magic) + 2 + 16 + len(vectorDump) + len(recordDump))
	buf.WriteString(magic)
	_ = binary.Write(&buf, binary.LittleEndian, version)
	for _, section := range [][]byte{vectorDump, recordDump} {
		_ = binary.Write(&buf, binary.LittleEndian, uint64(len(section)))
		buf.Write(section)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

// Unpack reverses Pack. Malformed payloads are user input errors.
func Unpack(payload []byte) (vectorDump, recordDump []byte, err error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		return nil, nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: snapshot is not zstd data: %w", corpus.ErrUserInput, err)
	}

	if len(raw) < len(magic)+2 || string(raw[:len(magic)]) != magic {
		return nil, nil, fmt.Errorf("%w: not a snapshot", corpus.ErrUserInput)
	}
	raw = raw[len(magic):]
	if v := binary.LittleEndian.Uint16(raw); v != version {
		return nil, nil, fmt.Errorf("%w: unsupported snapshot version %d", corpus.ErrUserInput, v)
	}
	raw = raw[2:]

	sections := make([][]byte, 2)
	for i := range sections {
		if len(raw) < 8 {
			return nil, nil, fmt.Errorf("%w: truncated snapshot", corpus.ErrUserInput)
		}
		n := binary.LittleEndian.Uint64(raw)
		raw = raw[8:]
		if n > uint64(len(raw)) {
			return nil, nil, fmt.Errorf("%w: truncated snapshot", corpus.ErrUserInput)
		}
		sections[i] = raw[:n:n]
		raw = raw[n:]
	}
	if len(raw) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes in snapshot", corpus.ErrUserInput, len(raw))
	}
	return sections[0], sections[1], nil
}
