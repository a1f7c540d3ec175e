package cond

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/ilkoid/condsched/pkg/tensor"
)

// Бинарный формат сегментов для кэша: магия, число сегментов, затем на
// каждый сегмент JSON метаданных и сырые little-endian float32 тензоров
// cond, mask и pooled. Mask и Pooled в JSON не попадают, они едут
// отдельными блоками.
const codecMagic = "CSG1"

// EncodeSegments сериализует сегменты для долговременного кэша.
func EncodeSegments(segs []Segment) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(codecMagic)
	writeU32(buf, uint32(len(segs)))
	for _, s := range segs {
		meta, err := json.Marshal(s.Meta)
		if err != nil {
			// Meta состоит из примитивов, сюда попасть нельзя
			meta = []byte("{}")
		}
		writeU32(buf, uint32(len(meta)))
		buf.Write(meta)
		writeTensor(buf, s.Cond)
		writeTensor(buf, s.Meta.Mask)
		writeVector(buf, s.Meta.Pooled)
	}
	return buf.Bytes()
}

// DecodeSegments восстанавливает сегменты из сериализованного блока.
func DecodeSegments(data []byte) ([]Segment, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, len(codecMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != codecMagic {
		return nil, fmt.Errorf("cond codec: bad magic")
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	segs := make([]Segment, 0, count)
	for i := uint32(0); i < count; i++ {
		metaLen, err := readU32(r)
		if err != nil {
			return nil, err
		}
		metaRaw := make([]byte, metaLen)
		if _, err := io.ReadFull(r, metaRaw); err != nil {
			return nil, fmt.Errorf("cond codec: truncated meta: %w", err)
		}
		var s Segment
		if err := json.Unmarshal(metaRaw, &s.Meta); err != nil {
			return nil, fmt.Errorf("cond codec: meta: %w", err)
		}
		if s.Cond, err = readTensor(r); err != nil {
			return nil, err
		}
		if s.Meta.Mask, err = readTensor(r); err != nil {
			return nil, err
		}
		if s.Meta.Pooled, err = readVector(r); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("cond codec: truncated: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeFloats(buf *bytes.Buffer, data []float32) {
	b := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	buf.Write(b)
}

func readFloats(r *bytes.Reader, n int) ([]float32, error) {
	b := make([]byte, 4*n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("cond codec: truncated floats: %w", err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func writeTensor(buf *bytes.Buffer, t *tensor.Tensor) {
	if t == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeU32(buf, uint32(t.Rows()))
	writeU32(buf, uint32(t.Cols()))
	writeFloats(buf, t.Data())
}

func readTensor(r *bytes.Reader) (*tensor.Tensor, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("cond codec: truncated tensor: %w", err)
	}
	if present == 0 {
		return nil, nil
	}
	rows, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cols, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if uint64(rows)*uint64(cols) > uint64(r.Len()/4+1) {
		return nil, fmt.Errorf("cond codec: tensor %dx%d larger than payload", rows, cols)
	}
	data, err := readFloats(r, int(rows*cols))
	if err != nil {
		return nil, err
	}
	t := tensor.New(int(rows), int(cols))
	copy(t.Data(), data)
	return t, nil
}

func writeVector(buf *bytes.Buffer, v tensor.Vector) {
	if v == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeU32(buf, uint32(len(v)))
	writeFloats(buf, v)
}

func readVector(r *bytes.Reader) (tensor.Vector, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("cond codec: truncated vector: %w", err)
	}
	if present == 0 {
		return nil, nil
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Len()/4+1) {
		return nil, fmt.Errorf("cond codec: vector of %d floats larger than payload", n)
	}
	data, err := readFloats(r, int(n))
	if err != nil {
		return nil, err
	}
	return tensor.Vector(data), nil
}
