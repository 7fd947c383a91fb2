package conf

import (
	"math/bits"
	"strconv"

	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/types"
)

const (
	DefaultWarpSize           = 32
	DefaultNumMultiprocessors = 8
	DefaultMaxBlockSize       = 1024
	DefaultBlockSize          = 256
	DefaultGridPerSM          = 2

	DefaultSlotBufferCapacity = 64 * 1024
	DefaultArenaWords         = 1024 * 1024
	DefaultArenaGrowthFactor  = 2.0
	DefaultGlobalHashSlots    = 4096
	DefaultLocalHashNRooms    = 512
	DefaultHLLRegisterBits    = 8
	DefaultMaxResumeAttempts  = 64
	DefaultProgramCacheSize   = 16

	// DefaultCASYieldInterval is the number of consecutive failed compare-and-swap attempts after which a spinning
	// lane yields the processor.
	DefaultCASYieldInterval = 64

	MinHLLRegisterBits = 4
	MaxHLLRegisterBits = 16
	MaxWarpSize        = 64
)

type Config struct {
	// Device attributes
	WarpSize           *int `name:"warp-size"`
	NumMultiprocessors *int `name:"num-multiprocessors"`
	MaxBlockSize       *int `name:"max-block-size"`

	// Launch geometry. A zero grid size is derived from the number of multiprocessors.
	GridSize  *int `name:"grid-size"`
	BlockSize *int `name:"block-size"`

	// Buffer sizing
	SlotBufferCapacity *ParseableInt `name:"slot-buffer-capacity"`
	ArenaWords         *ParseableInt `name:"arena-words"`
	ArenaGrowthFactor  *float64      `name:"arena-growth-factor"`
	GlobalHashSlots    *int          `name:"global-hash-slots"`
	LocalHashNRooms    *int          `name:"local-hash-nrooms"`
	HLLRegisterBits    *int          `name:"hll-register-bits"`

	// Driver
	MaxResumeAttempts *int `name:"max-resume-attempts"`
	ProgramCacheSize  *int `name:"program-cache-size"`
}

type ParseableInt int

// UnmarshalText Kong uses default Json Unmrashalling which unmarshalls numbers as float64 which can result in loss of precision
// or failure to parse - this ensures large int fields are parsed correctly
// the field needs to be quoted as a string in the config
func (p *ParseableInt) UnmarshalText(text []byte) error {
	s := string(text)
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*p = ParseableInt(i)
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.WarpSize == nil || *c.WarpSize == 0 {
		c.WarpSize = types.AddressOf(DefaultWarpSize)
	}
	if c.NumMultiprocessors == nil || *c.NumMultiprocessors == 0 {
		c.NumMultiprocessors = types.AddressOf(DefaultNumMultiprocessors)
	}
	if c.MaxBlockSize == nil || *c.MaxBlockSize == 0 {
		c.MaxBlockSize = types.AddressOf(DefaultMaxBlockSize)
	}
	if c.BlockSize == nil || *c.BlockSize == 0 {
		c.BlockSize = types.AddressOf(DefaultBlockSize)
	}
	if c.GridSize == nil || *c.GridSize == 0 {
		c.GridSize = types.AddressOf(*c.NumMultiprocessors * DefaultGridPerSM)
	}
	if c.SlotBufferCapacity == nil {
		c.SlotBufferCapacity = (*ParseableInt)(types.AddressOf(DefaultSlotBufferCapacity))
	}
	if c.ArenaWords == nil {
		c.ArenaWords = (*ParseableInt)(types.AddressOf(DefaultArenaWords))
	}
	if c.ArenaGrowthFactor == nil {
		c.ArenaGrowthFactor = types.AddressOf(DefaultArenaGrowthFactor)
	}
	if c.GlobalHashSlots == nil {
		c.GlobalHashSlots = types.AddressOf(DefaultGlobalHashSlots)
	}
	if c.LocalHashNRooms == nil {
		c.LocalHashNRooms = types.AddressOf(DefaultLocalHashNRooms)
	}
	if c.HLLRegisterBits == nil {
		c.HLLRegisterBits = types.AddressOf(DefaultHLLRegisterBits)
	}
	if c.MaxResumeAttempts == nil {
		c.MaxResumeAttempts = types.AddressOf(DefaultMaxResumeAttempts)
	}
	if c.ProgramCacheSize == nil {
		c.ProgramCacheSize = types.AddressOf(DefaultProgramCacheSize)
	}
}

func (c *Config) Validate() error { //nolint:gocyclo
	if *c.WarpSize < 1 || *c.WarpSize > MaxWarpSize || bits.OnesCount(uint(*c.WarpSize)) != 1 {
		return errors.NewInvalidConfigurationError("warp-size must be a power of two between 1 and 64")
	}
	if *c.NumMultiprocessors < 1 {
		return errors.NewInvalidConfigurationError("num-multiprocessors must be > 0")
	}
	if *c.MaxBlockSize < *c.WarpSize {
		return errors.NewInvalidConfigurationError("max-block-size must be >= warp-size")
	}
	if *c.BlockSize < 1 || *c.BlockSize%*c.WarpSize != 0 {
		return errors.NewInvalidConfigurationError("block-size must be a positive multiple of warp-size")
	}
	if *c.BlockSize > *c.MaxBlockSize {
		return errors.NewInvalidConfigurationError("block-size must be <= max-block-size")
	}
	if *c.GridSize < 1 {
		return errors.NewInvalidConfigurationError("grid-size must be > 0")
	}
	if *c.SlotBufferCapacity < 1 {
		return errors.NewInvalidConfigurationError("slot-buffer-capacity must be > 0")
	}
	if *c.ArenaWords < 2 || *c.ArenaWords > ParseableInt(1<<32-1) {
		return errors.NewInvalidConfigurationError("arena-words must be >= 2 and < 2^32")
	}
	if *c.ArenaGrowthFactor <= 1 {
		return errors.NewInvalidConfigurationError("arena-growth-factor must be > 1")
	}
	if *c.GlobalHashSlots < 1 {
		return errors.NewInvalidConfigurationError("global-hash-slots must be > 0")
	}
	if *c.LocalHashNRooms < 0 {
		return errors.NewInvalidConfigurationError("local-hash-nrooms must be >= 0")
	}
	if *c.HLLRegisterBits < MinHLLRegisterBits || *c.HLLRegisterBits > MaxHLLRegisterBits {
		return errors.NewInvalidConfigurationError("hll-register-bits must be between 4 and 16")
	}
	if *c.MaxResumeAttempts < 1 {
		return errors.NewInvalidConfigurationError("max-resume-attempts must be > 0")
	}
	if *c.ProgramCacheSize < 1 {
		return errors.NewInvalidConfigurationError("program-cache-size must be > 0")
	}
	return nil
}

// NumWarps returns the number of warps in each block.
func (c *Config) NumWarps() int {
	return *c.BlockSize / *c.WarpSize
}
