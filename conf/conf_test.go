package conf

import (
	"testing"

	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/types"
	"github.com/stretchr/testify/require"
)

type configPair struct {
	errMsg string
	conf   Config
}

func invalidWarpSizeConf() Config {
	cnf := validConf()
	cnf.WarpSize = types.AddressOf(24)
	return cnf
}

func invalidWarpSizeTooLargeConf() Config {
	cnf := validConf()
	cnf.WarpSize = types.AddressOf(128)
	return cnf
}

func invalidNumMultiprocessorsConf() Config {
	cnf := validConf()
	cnf.NumMultiprocessors = types.AddressOf(-1)
	return cnf
}

func invalidMaxBlockSizeConf() Config {
	cnf := validConf()
	cnf.MaxBlockSize = types.AddressOf(16)
	return cnf
}

func invalidBlockSizeNotMultipleConf() Config {
	cnf := validConf()
	cnf.BlockSize = types.AddressOf(100)
	return cnf
}

func invalidBlockSizeTooLargeConf() Config {
	cnf := validConf()
	cnf.BlockSize = types.AddressOf(2048)
	return cnf
}

func invalidGridSizeConf() Config {
	cnf := validConf()
	cnf.GridSize = types.AddressOf(-3)
	return cnf
}

func invalidSlotBufferCapacityConf() Config {
	cnf := validConf()
	cnf.SlotBufferCapacity = (*ParseableInt)(types.AddressOf(0))
	return cnf
}

func invalidArenaWordsConf() Config {
	cnf := validConf()
	cnf.ArenaWords = (*ParseableInt)(types.AddressOf(1))
	return cnf
}

func invalidArenaGrowthFactorConf() Config {
	cnf := validConf()
	cnf.ArenaGrowthFactor = types.AddressOf(1.0)
	return cnf
}

func invalidGlobalHashSlotsConf() Config {
	cnf := validConf()
	cnf.GlobalHashSlots = types.AddressOf(0)
	return cnf
}

func invalidLocalHashNRoomsConf() Config {
	cnf := validConf()
	cnf.LocalHashNRooms = types.AddressOf(-1)
	return cnf
}

func invalidHLLRegisterBitsConf() Config {
	cnf := validConf()
	cnf.HLLRegisterBits = types.AddressOf(20)
	return cnf
}

func invalidMaxResumeAttemptsConf() Config {
	cnf := validConf()
	cnf.MaxResumeAttempts = types.AddressOf(0)
	return cnf
}

func invalidProgramCacheSizeConf() Config {
	cnf := validConf()
	cnf.ProgramCacheSize = types.AddressOf(0)
	return cnf
}

var invalidConfigs = []configPair{
	{"invalid configuration: warp-size must be a power of two between 1 and 64", invalidWarpSizeConf()},
	{"invalid configuration: warp-size must be a power of two between 1 and 64", invalidWarpSizeTooLargeConf()},
	{"invalid configuration: num-multiprocessors must be > 0", invalidNumMultiprocessorsConf()},
	{"invalid configuration: max-block-size must be >= warp-size", invalidMaxBlockSizeConf()},
	{"invalid configuration: block-size must be a positive multiple of warp-size", invalidBlockSizeNotMultipleConf()},
	{"invalid configuration: block-size must be <= max-block-size", invalidBlockSizeTooLargeConf()},
	{"invalid configuration: grid-size must be > 0", invalidGridSizeConf()},
	{"invalid configuration: slot-buffer-capacity must be > 0", invalidSlotBufferCapacityConf()},
	{"invalid configuration: arena-words must be >= 2 and < 2^32", invalidArenaWordsConf()},
	{"invalid configuration: arena-growth-factor must be > 1", invalidArenaGrowthFactorConf()},
	{"invalid configuration: global-hash-slots must be > 0", invalidGlobalHashSlotsConf()},
	{"invalid configuration: local-hash-nrooms must be >= 0", invalidLocalHashNRoomsConf()},
	{"invalid configuration: hll-register-bits must be between 4 and 16", invalidHLLRegisterBitsConf()},
	{"invalid configuration: max-resume-attempts must be > 0", invalidMaxResumeAttemptsConf()},
	{"invalid configuration: program-cache-size must be > 0", invalidProgramCacheSizeConf()},
}

func TestValidate(t *testing.T) {
	for _, cp := range invalidConfigs {
		err := cp.conf.Validate()
		require.Error(t, err, "Didn't get error, expected: %s", cp.errMsg)
		var pe errors.PreAggError
		require.True(t, errors.As(err, &pe))
		require.Equal(t, errors.InvalidConfiguration, pe.Code)
		require.Equal(t, cp.errMsg, pe.Msg)
	}
}

func TestValidConf(t *testing.T) {
	cnf := validConf()
	require.NoError(t, cnf.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cnf := Config{}
	cnf.ApplyDefaults()
	require.Equal(t, DefaultWarpSize, *cnf.WarpSize)
	require.Equal(t, DefaultBlockSize, *cnf.BlockSize)
	require.Equal(t, DefaultNumMultiprocessors*DefaultGridPerSM, *cnf.GridSize)
	require.Equal(t, DefaultBlockSize/DefaultWarpSize, cnf.NumWarps())
	require.Equal(t, ParseableInt(DefaultArenaWords), *cnf.ArenaWords)
	require.Equal(t, DefaultHLLRegisterBits, *cnf.HLLRegisterBits)
	require.NoError(t, cnf.Validate())
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cnf := Config{
		NumMultiprocessors: types.AddressOf(3),
		BlockSize:          types.AddressOf(64),
	}
	cnf.ApplyDefaults()
	require.Equal(t, 6, *cnf.GridSize)
	require.Equal(t, 64, *cnf.BlockSize)
	require.Equal(t, 2, cnf.NumWarps())
}

func TestParseableInt(t *testing.T) {
	var p ParseableInt
	require.NoError(t, p.UnmarshalText([]byte("9007199254740993")))
	require.Equal(t, ParseableInt(9007199254740993), p)
	require.Error(t, p.UnmarshalText([]byte("1.5")))
}

func validConf() Config {
	conf := Config{}
	conf.ApplyDefaults()
	return conf
}
