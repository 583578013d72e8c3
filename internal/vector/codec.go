package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"corpora/internal/corpus"
)

var dumpMagic = [4]byte{'C', 'V', 'S', 'D'}

const dumpVersion uint16 = 1

// EncodeEntries writes a little-endian dump:
//
//	magic[4] version:u16 dims:u32 count:u32
//	count x { id source seq:i64 headers:u32{str} text vector:dims x f32 }
//
// where str is u32 length followed by bytes. Entries are sorted by id so equal
// contents produce equal dumps.
func EncodeEntries(dims int, entries []Entry) ([]byte, error) {
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Unit.ID, b.Unit.ID) })

	var buf bytes.Buffer
	buf.Write(dumpMagic[:])
	le := binary.LittleEndian
	buf.Write(le.AppendUint16(nil, dumpVersion))
	buf.Write(le.AppendUint32(nil, uint32(dims)))
	buf.Write(le.AppendUint32(nil, uint32(len(entries))))

	for _, e := range entries {
		if len(e.Embedding) != dims {
			return nil, fmt.Errorf("%w: entry %s has %d dimensions, dump has %d", corpus.ErrConfiguration, e.Unit.ID, len(e.Embedding), dims)
		}
		writeString(&buf, e.Unit.ID)
		writeString(&buf, e.Unit.SourcePath)
		buf.Write(le.AppendUint64(nil, uint64(int64(e.Unit.SequenceOrder))))
		buf.Write(le.AppendUint32(nil, uint32(len(e.Unit.HeaderPath))))
		for _, h := range e.Unit.HeaderPath {
			writeString(&buf, h)
		}
		writeString(&buf, e.Unit.Text)
		for _, f := range e.Embedding {
			buf.Write(le.AppendUint32(nil, math.Float32bits(f)))
		}
	}
	return buf.Bytes(), nil
}

func DecodeEntries(dump []byte) (int, []Entry, error) {
	r := &reader{b: dump}

	var magic [4]byte
	r.read(magic[:])
	if r.err == nil && magic != dumpMagic {
		return 0, nil, fmt.Errorf("%w: not a vector store dump", corpus.ErrUserInput)
	}
	if v := r.u16(); r.err == nil && v != dumpVersion {
		return 0, nil, fmt.Errorf("%w: unsupported vector dump version %d", corpus.ErrUserInput, v)
	}
	dims := int(r.u32())
	count := int(r.u32())
	if r.err == nil && count > 0 && dims*4 > len(r.b) {
		return 0, nil, fmt.Errorf("%w: vector dump dimensions %d exceed payload", corpus.ErrUserInput, dims)
	}

	var entries []Entry
	for i := 0; i < count && r.err == nil; i++ {
		var e Entry
		e.Unit.ID = r.str()
		e.Unit.SourcePath = r.str()
		e.Unit.SequenceOrder = int(int64(r.u64()))
		if n := int(r.u32()); n > 0 && r.err == nil {
			if n > len(r.b)/4 {
				r.err = io.ErrUnexpectedEOF
				break
			}
			e.Unit.HeaderPath = make([]string, n)
			for j := range e.Unit.HeaderPath {
				e.Unit.HeaderPath[j] = r.str()
			}
		}
		e.Unit.Text = r.str()
		e.Embedding = make([]float32, dims)
		for j := range e.Embedding {
			e.Embedding[j] = math.Float32frombits(r.u32())
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return 0, nil, fmt.Errorf("%w: truncated vector dump: %v", corpus.ErrUserInput, r.err)
	}
	return dims, entries, nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(s))))
	buf.WriteString(s)
}

// reader latches the first error so decode can run straight-line.
type reader struct {
	b   []byte
	err error
}

func (r *reader) read(p []byte) {
	if r.err != nil {
		return
	}
	if len(r.b) < len(p) {
		r.err = io.ErrUnexpectedEOF
		return
	}
	copy(p, r.b)
	r.b = r.b[len(p):]
}

func (r *reader) u16() uint16 {
	var p [2]byte
	r.read(p[:])
	return binary.LittleEndian.Uint16(p[:])
}

func (r *reader) u32() uint32 {
	var p [4]byte
	r.read(p[:])
	return binary.LittleEndian.Uint32(p[:])
}

func (r *reader) u64() uint64 {
	var p [8]byte
	r.read(p[:])
	return binary.LittleEndian.Uint64(p[:])
}

func (r *reader) str() string {
	n := int(r.u32())
	if r.err != nil {
		return ""
	}
	if n > len(r.b) {
		r.err = errors.New("string length exceeds remaining payload")
		return ""
	}
	s := string(r.b[:n])
	r.b = r.b[n:]
	return s
}
