package fcgi

import (
	"bytes"
	"encoding/binary"
	"io"
)

// NameValuePair is one entry of a Params record's payload: an environment
// variable name and value pair.
type NameValuePair struct {
	Name  []byte
	Value []byte
}

// encodeLen writes the FastCGI variable-length length prefix: one byte
// when n fits in 7 bits, otherwise a 4-byte big-endian value with the top
// bit set to flag the long form (the top bit is cleared again on decode).
func encodeLen(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n)|0x80000000)
	return b
}

// decodeLen reads one length prefix from the front of data, returning the
// decoded length and the number of bytes consumed.
func decodeLen(data []byte) (length, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if data[0]&0x80 == 0 {
		return int(data[0]), 1, nil
	}
	if len(data) < 4 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(data[:4])
	v &^= 0x80000000
	return int(v), 4, nil
}

// EncodeNameValuePairs serializes pairs into a Params record payload.
func EncodeNameValuePairs(pairs []NameValuePair) []byte {
	var buf bytes.Buffer
	for _, p := range pairs {
		buf.Write(encodeLen(len(p.Name)))
		buf.Write(encodeLen(len(p.Value)))
		buf.Write(p.Name)
		buf.Write(p.Value)
	}
	return buf.Bytes()
}

// DecodeNameValuePairs parses a Params record payload (or the
// concatenation of several) back into pairs.
func DecodeNameValuePairs(data []byte) ([]NameValuePair, error) {
	var pairs []NameValuePair
	for len(data) > 0 {
		nameLen, n1, err := decodeLen(data)
		if err != nil {
			return nil, err
		}
		data = data[n1:]

		valLen, n2, err := decodeLen(data)
		if err != nil {
			return nil, err
		}
		data = data[n2:]

		if len(data) < nameLen+valLen {
			return nil, io.ErrUnexpectedEOF
		}
		name := append([]byte(nil), data[:nameLen]...)
		data = data[nameLen:]
		value := append([]byte(nil), data[:valLen]...)
		data = data[valLen:]

		pairs = append(pairs, NameValuePair{Name: name, Value: value})
	}
	return pairs, nil
}
