package landcover

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	tByte      = 1
	tAscii     = 2
	tShort     = 3
	tLong      = 4
	tRational  = 5
	tSByte     = 6
	tUndefined = 7
	tSShort    = 8
	tSLong     = 9
	tSRational = 10
	tFloat     = 11
	tDouble    = 12
	tLong8     = 16
	tSLong8    = 17
	tIFD8      = 18
)

// tagData accumulates out-of-line tag values at a known file offset.
type tagData struct {
	bytes.Buffer
	Offset uint64
}

func (t *tagData) NextOffset() uint64 {
	return t.Offset + uint64(t.Buffer.Len())
}

// fieldValue returns the tiff type, value count and encoded payload of a
// supported tag value.
func fieldValue(enc binary.ByteOrder, data interface{}) (typ uint16, count uint64, payload []byte) {
	switch d := data.(type) {
	case uint16:
		payload = make([]byte, 2)
		enc.PutUint16(payload, d)
		return tShort, 1, payload
	case uint32:
		payload = make([]byte, 4)
		enc.PutUint32(payload, d)
		return tLong, 1, payload
	case []byte:
		return tByte, uint64(len(d)), d
	case []uint16:
		payload = make([]byte, 2*len(d))
		for i, v := range d {
			enc.PutUint16(payload[2*i:], v)
		}
		return tShort, uint64(len(d)), payload
	case []uint32:
		payload = make([]byte, 4*len(d))
		for i, v := range d {
			enc.PutUint32(payload[4*i:], v)
		}
		return tLong, uint64(len(d)), payload
	case []uint64:
		payload = make([]byte, 8*len(d))
		for i, v := range d {
			enc.PutUint64(payload[8*i:], v)
		}
		return tLong8, uint64(len(d)), payload
	case []float64:
		payload = make([]byte, 8*len(d))
		for i, v := range d {
			enc.PutUint64(payload[8*i:], math.Float64bits(v))
		}
		return tDouble, uint64(len(d)), payload
	case string:
		payload = append([]byte(d), 0)
		return tAscii, uint64(len(payload)), payload
	}
	panic(fmt.Sprintf("unsupported tag value type %T", data))
}

// inlineSize is the number of value bytes that fit in an IFD entry.
func inlineSize(bigtiff bool) int {
	if bigtiff {
		return 8
	}
	return 4
}

func entrySize(bigtiff bool) uint64 {
	if bigtiff {
		return 20
	}
	return 12
}

// fieldSize returns the number of bytes taken by a tag, its IFD entry plus
// any out-of-line payload.
func fieldSize(data interface{}, bigtiff bool) uint64 {
	_, _, payload := fieldValue(binary.LittleEndian, data)
	size := entrySize(bigtiff)
	if len(payload) > inlineSize(bigtiff) {
		size += uint64(len(payload))
	}
	return size
}

// writeField writes the IFD entry for tag. Payloads that do not fit in the
// entry are appended to overflow and referenced by offset.
func (g *geotiff) writeField(w io.Writer, tag uint16, data interface{}, overflow *tagData) error {
	typ, count, payload := fieldValue(g.enc, data)
	inline := inlineSize(g.bigtiff)
	buf := make([]byte, entrySize(g.bigtiff))
	g.enc.PutUint16(buf[0:2], tag)
	g.enc.PutUint16(buf[2:4], typ)
	value := buf[8:]
	if g.bigtiff {
		g.enc.PutUint64(buf[4:12], count)
		value = buf[12:]
	} else {
		g.enc.PutUint32(buf[4:8], uint32(count))
	}
	if len(payload) <= inline {
		copy(value, payload)
	} else {
		if g.bigtiff {
			g.enc.PutUint64(value, overflow.NextOffset())
		} else {
			g.enc.PutUint32(value, uint32(overflow.NextOffset()))
		}
		if _, err := overflow.Write(payload); err != nil {
			return err
		}
	}
	_, err := w.Write(buf)
	return err
}
