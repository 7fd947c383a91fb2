package colbatch

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAllCodecs(t *testing.T) {
	schema := testSchema()
	batch := createBatch(schema)
	for _, name := range []string{"none", "gzip", "snappy", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			codec, err := ParseCodec(name)
			require.NoError(t, err)
			require.Equal(t, name, codec.String())
			data, err := batch.Encode(codec)
			require.NoError(t, err)
			require.Equal(t, byte(codec), data[0])
			decoded, err := DecodeBatch(schema, data)
			require.NoError(t, err)
			verifyBatch(t, decoded)
		})
	}
}

func TestDecodeBadInput(t *testing.T) {
	_, err := DecodeBatch(testSchema(), nil)
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.WrongFormat))
	_, err = DecodeBatch(testSchema(), []byte{99, 1, 2})
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.WrongFormat))
	_, err = DecodeBatch(testSchema(), []byte{byte(CodecNone), 1, 2, 3})
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.WrongFormat))
	_, err = ParseCodec("brotli")
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.InvalidArgument))
}

func TestDecodeRowCountBeyondBuffers(t *testing.T) {
	schema := NewSchema([]string{"k", "v"}, []types.ColumnType{types.ColumnTypeInt64, types.ColumnTypeInt64})
	kb, vb := NewInt64ColBuilder(), NewInt64ColBuilder()
	for i := 0; i < 4; i++ {
		kb.Append(int64(i))
		vb.Append(int64(i * 10))
	}
	data, err := NewBatchFromBuilders(schema, kb, vb).Encode(CodecNone)
	require.NoError(t, err)
	decoded, err := DecodeBatch(schema, data)
	require.NoError(t, err)
	require.Equal(t, 4, decoded.RowCount)

	for _, rows := range []uint64{5, 100000, math.MaxUint64} {
		bad := append([]byte{}, data...)
		binary.LittleEndian.PutUint64(bad[1:9], rows)
		_, err = DecodeBatch(schema, bad)
		require.True(t, errors.IsPreAggErrorWithCode(err, errors.WrongFormat), "rows %d", rows)
	}

	bools := NewSchema([]string{"b"}, []types.ColumnType{types.ColumnTypeBool})
	bb := NewBoolColBuilder()
	for i := 0; i < 8; i++ {
		bb.Append(i%3 == 0)
	}
	data, err = NewBatchFromBuilders(bools, bb).Encode(CodecNone)
	require.NoError(t, err)
	bad := append([]byte{}, data...)
	binary.LittleEndian.PutUint64(bad[1:9], 8*uint64(len(data)))
	_, err = DecodeBatch(bools, bad)
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.WrongFormat))
}
