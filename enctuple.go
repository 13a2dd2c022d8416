package schemacat

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// tuple format: el1 el2 ... elN len1 len2 ... lenN-1  n
//
// Lengths and the count are reverse uvarints, so the tuple is parsed from the
// right. An empty tuple is a single zero count byte.
type tuple [][]byte

func stringTuple(items ...string) tuple {
	tup := make(tuple, len(items))
	for i, s := range items {
		tup[i] = []byte(s)
	}
	return tup
}

func (tup tuple) Strings() []string {
	if tup == nil {
		return nil
	}
	out := make([]string, len(tup))
	for i, el := range tup {
		out[i] = string(el)
	}
	return out
}

func (tup tuple) String() string {
	var buf strings.Builder
	for i, el := range tup {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(hex.EncodeToString(el))
	}
	return buf.String()
}

func (tup tuple) Equal(another tuple) bool {
	n := len(tup)
	if len(another) != n {
		return false
	}
	for i, b := range tup {
		if !bytes.Equal(b, another[i]) {
			return false
		}
	}
	return true
}

func decodeTuple(raw []byte) (tuple, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	orig := raw

	c, raw, err := decodeRuvarint(raw)
	if err != nil {
		return nil, dataErrf(orig, len(raw), err, "invalid tuple count")
	}
	if c == 0 {
		if len(raw) != 0 {
			return nil, dataErrf(orig, 0, nil, "invalid tuple: %d trailing bytes after empty tuple", len(raw))
		}
		return tuple{}, nil
	}
	if c > uint32(len(orig)) {
		return nil, dataErrf(orig, len(raw), nil, "invalid tuple: count %d exceeds data size", c)
	}

	lens := make([]uint32, c)
	for i := int(c) - 2; i >= 0; i-- {
		lens[i], raw, err = decodeRuvarint(raw)
		if err != nil {
			return nil, dataErrf(orig, len(raw), err, "invalid length of tuple element %d", i)
		}
	}

	var explicitLen uint64
	for i := uint32(0); i < c-1; i++ {
		explicitLen += uint64(lens[i])
	}
	if explicitLen > uint64(len(raw)) {
		return nil, dataErrf(orig, 0, nil, "invalid tuple: sum of explicit lens %d is greater than total data len %d", explicitLen, len(raw))
	}

	starts := make([]uint32, c+1)
	for i := uint32(0); i < c-1; i++ {
		starts[i+1] = starts[i] + lens[i]
	}
	starts[c] = uint32(len(raw))

	tup := make(tuple, c)
	for i := uint32(0); i < c; i++ {
		tup[i] = raw[starts[i]:starts[i+1]]
	}
	return tup, nil
}

func (tup tuple) encode(buf []byte) []byte {
	if len(tup) == 0 {
		return appendRuvarint(buf, 0)
	}
	var tb tupleEncoder
	for _, el := range tup {
		tb.begin(buf)
		buf = appendRaw(buf, el)
	}
	return tb.finalize(buf)
}

type tupleEncoder struct {
	startOffPlus1 int
	lens          []int
}

func (tb *tupleEncoder) count() int {
	return len(tb.lens) + 1
}

func (tb *tupleEncoder) begin(buf []byte) {
	off := tb.startOffPlus1
	if off < 0 {
		panic("tupleEncoder finalized")
	} else if off != 0 {
		itemLen := len(buf) + 1 - off
		tb.lens = append(tb.lens, itemLen)
	}
	tb.startOffPlus1 = len(buf) + 1
}

func (tb *tupleEncoder) finalize(buf []byte) []byte {
	for _, v := range tb.lens {
		buf = appendRuvarint(buf, uint32(v))
	}
	buf = appendRuvarint(buf, uint32(tb.count()))
	tb.startOffPlus1 = -1
	return buf
}

// Reverse Uvarint is just byte-reversed Uvarint, for right-to-left reading
func appendRuvarint(buf []byte, v uint32) []byte {
	var vb [binary.MaxVarintLen32]byte
	vn := binary.PutUvarint(vb[:], uint64(v))
	off, buf := grow(buf, vn)
	for i, b := range vb[:vn] {
		buf[off+vn-i-1] = b
	}
	return buf
}

func decodeRuvarint(buf []byte) (uint32, []byte, error) {
	var vb [binary.MaxVarintLen32]byte
	n := len(buf)
	if n == 0 {
		return 0, buf, errTruncated
	}
	c := binary.MaxVarintLen32
	if n < c {
		c = n
	}
	for i := 0; i < c; i++ {
		vb[i] = buf[n-i-1]
	}
	v, vn := binary.Uvarint(vb[:c])
	if vn <= 0 || v > 0xFFFFFFFF {
		return 0, buf, errInvalidVarint
	}
	return uint32(v), buf[:n-vn], nil
}
