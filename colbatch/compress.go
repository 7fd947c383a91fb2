package colbatch

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spirit-labs/preagg/errors"
)

// Codec is the compression applied to a serialized batch while it is transferred to the device.
type Codec byte

const (
	CodecNone   Codec = 0
	CodecGzip   Codec = 1
	CodecSnappy Codec = 2
	CodecLz4    Codec = 3
	CodecZstd   Codec = 4
)

func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "gzip":
		return CodecGzip, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLz4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return CodecNone, errors.NewPreAggErrorf(errors.InvalidArgument, "unknown codec %q", s)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecGzip:
		return "gzip"
	case CodecSnappy:
		return "snappy"
	case CodecLz4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Encode serializes the batch and compresses it with codec. The first byte of the result names the codec.
func (b *Batch) Encode(codec Codec) ([]byte, error) {
	raw := b.Serialize(nil)
	out := []byte{byte(codec)}
	switch codec {
	case CodecNone:
		return append(out, raw...), nil
	case CodecSnappy:
		return append(out, s2.EncodeSnappy(nil, raw)...), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, out), nil
	}
	buf := bytes.NewBuffer(out)
	var w io.WriteCloser
	switch codec {
	case CodecGzip:
		w = gzip.NewWriter(buf)
	case CodecLz4:
		w = lz4.NewWriter(buf)
	default:
		return nil, errors.NewPreAggErrorf(errors.InvalidArgument, "unexpected codec %d", codec)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// DecodeBatch is the inverse of Encode.
func DecodeBatch(schema *Schema, data []byte) (*Batch, error) {
	if len(data) == 0 {
		return nil, errors.NewPreAggError(errors.WrongFormat, "empty encoded batch")
	}
	codec, body := Codec(data[0]), data[1:]
	var raw []byte
	var err error
	switch codec {
	case CodecNone:
		raw = body
	case CodecSnappy:
		raw, err = s2.Decode(nil, body)
	case CodecZstd:
		var dec *zstd.Decoder
		if dec, err = zstd.NewReader(nil); err == nil {
			raw, err = dec.DecodeAll(body, nil)
			dec.Close()
		}
	case CodecGzip:
		var r *gzip.Reader
		if r, err = gzip.NewReader(bytes.NewReader(body)); err == nil {
			raw, err = io.ReadAll(r)
		}
	case CodecLz4:
		raw, err = io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	default:
		return nil, errors.NewPreAggErrorf(errors.WrongFormat, "unexpected codec %d", codec)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Deserialize(schema, raw)
}
