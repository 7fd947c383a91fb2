package kern

import (
	"fmt"
	"sync/atomic"

	"github.com/spirit-labs/preagg/encoding"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/kds"
)

type State int

const (
	StateFresh State = iota
	StateRunning
	StateSuspended
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateRunning:
		return "RUNNING"
	case StateSuspended:
		return "SUSPENDED"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const suspendContextSize = 8

// KernGpuPreAgg is the state of one kernel invocation. Counters are updated atomically by worker units and read
// by the host once a launch has returned.
type KernGpuPreAgg struct {
	KError              ErrorBuf
	NumGroupKeys        uint32
	ReadSlotPos         atomic.Uint32
	GridSize            uint32
	BlockSize           uint32
	SetupSlotDone       atomic.Bool
	FinalBufferModified atomic.Bool
	ResumeContext       bool
	SuspendCount        atomic.Uint32
	// SuspendSize is the size in bytes of the suspend area; zero when the invocation cannot suspend.
	SuspendSize   uint32
	SuspendFormat kds.Format

	NItemsReal     atomic.Uint64
	NItemsFiltered atomic.Uint64
	NumGroups      atomic.Uint64
	ExtraUsage     atomic.Uint64

	StatDebug1 atomic.Uint64
	StatDebug2 atomic.Uint64
	StatDebug3 atomic.Uint64
	StatDebug4 atomic.Uint64

	KParams []byte
	Suspend []SuspendContext

	launches uint32
	// set by Reset until the next launch starts
	pending  bool
	running  atomic.Bool
}

// NewKernGpuPreAgg allocates the state of an invocation. When suspendable is set one suspend record is kept per
// worker unit.
func NewKernGpuPreAgg(numGroupKeys int, gridSize int, blockSize int, format kds.Format, params []byte,
	suspendable bool) *KernGpuPreAgg {
	k := &KernGpuPreAgg{
		NumGroupKeys:  uint32(numGroupKeys),
		GridSize:      uint32(gridSize),
		BlockSize:     uint32(blockSize),
		SuspendFormat: format,
		KParams:       params,
	}
	if suspendable {
		k.SuspendSize = uint32(gridSize * suspendContextSize)
		k.Suspend = make([]SuspendContext, gridSize)
	}
	return k
}

func (k *KernGpuPreAgg) IsNoGroup() bool {
	return k.NumGroupKeys == 0
}

// SuspendContextOf returns the suspend record of a worker unit, or nil when the invocation cannot suspend.
func (k *KernGpuPreAgg) SuspendContextOf(workerID int) *SuspendContext {
	if k.SuspendSize == 0 {
		return nil
	}
	return &k.Suspend[workerID]
}

// Reset prepares the state for the next launch. When resume is false any saved continuation is discarded. The
// invocation reports FRESH until it is launched again.
func (k *KernGpuPreAgg) Reset(resume bool) {
	k.KError.Reset()
	k.ReadSlotPos.Store(0)
	k.SetupSlotDone.Store(false)
	k.FinalBufferModified.Store(false)
	k.ResumeContext = resume
	k.SuspendCount.Store(0)
	k.pending = true
	if !resume {
		for i := range k.Suspend {
			k.Suspend[i] = 0
		}
	}
}

func (k *KernGpuPreAgg) State() State {
	switch {
	case k.running.Load():
		return StateRunning
	case k.launches == 0 || k.pending:
		return StateFresh
	case k.KError.IsSet():
		return StateFailed
	case k.SuspendCount.Load() > 0:
		return StateSuspended
	default:
		return StateComplete
	}
}

func (k *KernGpuPreAgg) Launches() int {
	return int(k.launches)
}

// Serialize writes the state in the order header, parameter block (with its length inline) and, when the
// invocation can suspend, one record per worker unit.
func (k *KernGpuPreAgg) Serialize(buff []byte) []byte {
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(k.KError.Code()))
	buff = encoding.AppendStringToBufferLE(buff, k.KError.FuncName())
	buff = encoding.AppendStringToBufferLE(buff, k.KError.Message())
	buff = encoding.AppendUint32ToBufferLE(buff, k.NumGroupKeys)
	buff = encoding.AppendUint32ToBufferLE(buff, k.ReadSlotPos.Load())
	buff = encoding.AppendUint32ToBufferLE(buff, k.GridSize)
	buff = encoding.AppendUint32ToBufferLE(buff, k.BlockSize)
	buff = encoding.AppendBoolToBuffer(buff, k.SetupSlotDone.Load())
	buff = encoding.AppendBoolToBuffer(buff, k.FinalBufferModified.Load())
	buff = encoding.AppendBoolToBuffer(buff, k.ResumeContext)
	buff = encoding.AppendUint32ToBufferLE(buff, k.SuspendCount.Load())
	buff = encoding.AppendUint32ToBufferLE(buff, k.SuspendSize)
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(k.SuspendFormat))
	for _, stat := range k.stats() {
		buff = encoding.AppendUint64ToBufferLE(buff, stat.Load())
	}
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(k.KParams)))
	buff = append(buff, k.KParams...)
	if k.SuspendSize > 0 {
		for _, sc := range k.Suspend {
			buff = encoding.AppendUint64ToBufferLE(buff, uint64(sc))
		}
	}
	return buff
}

func (k *KernGpuPreAgg) stats() []*atomic.Uint64 {
	return []*atomic.Uint64{&k.NItemsReal, &k.NItemsFiltered, &k.NumGroups, &k.ExtraUsage,
		&k.StatDebug1, &k.StatDebug2, &k.StatDebug3, &k.StatDebug4}
}

// headerSize is the serialized size of the fixed part of the state with empty error strings.
const headerSize = 4 + 4 + 4 + 4*4 + 3 + 3*4 + 8*8 + 4

// Deserialize reads back a state written by Serialize.
func Deserialize(buff []byte) (*KernGpuPreAgg, error) {
	if len(buff) < headerSize {
		return nil, errors.NewPreAggErrorf(errors.WrongFormat, "invocation state too short: %d bytes", len(buff))
	}
	k := &KernGpuPreAgg{}
	var off int
	var u32 uint32
	u32, off = encoding.ReadUint32FromBufferLE(buff, off)
	code := errors.ErrorCode(u32)
	var funcName, message string
	var err error
	if funcName, off, err = readString(buff, off); err != nil {
		return nil, err
	}
	if message, off, err = readString(buff, off); err != nil {
		return nil, err
	}
	k.KError.Reset()
	k.KError.Set(code, funcName, message)
	if len(buff)-off < headerSize-12 {
		return nil, errors.NewPreAggError(errors.WrongFormat, "invocation state header truncated")
	}
	k.NumGroupKeys, off = encoding.ReadUint32FromBufferLE(buff, off)
	u32, off = encoding.ReadUint32FromBufferLE(buff, off)
	k.ReadSlotPos.Store(u32)
	k.GridSize, off = encoding.ReadUint32FromBufferLE(buff, off)
	k.BlockSize, off = encoding.ReadUint32FromBufferLE(buff, off)
	var b bool
	b, off = encoding.ReadBoolFromBuffer(buff, off)
	k.SetupSlotDone.Store(b)
	b, off = encoding.ReadBoolFromBuffer(buff, off)
	k.FinalBufferModified.Store(b)
	k.ResumeContext, off = encoding.ReadBoolFromBuffer(buff, off)
	u32, off = encoding.ReadUint32FromBufferLE(buff, off)
	k.SuspendCount.Store(u32)
	k.SuspendSize, off = encoding.ReadUint32FromBufferLE(buff, off)
	u32, off = encoding.ReadUint32FromBufferLE(buff, off)
	k.SuspendFormat = kds.Format(u32)
	for _, stat := range k.stats() {
		var v uint64
		v, off = encoding.ReadUint64FromBufferLE(buff, off)
		stat.Store(v)
	}
	var plen uint32
	plen, off = encoding.ReadUint32FromBufferLE(buff, off)
	if len(buff)-off < int(plen) {
		return nil, errors.NewPreAggError(errors.WrongFormat, "invocation state parameter block truncated")
	}
	k.KParams = append([]byte(nil), buff[off:off+int(plen)]...)
	off += int(plen)
	if k.SuspendSize > 0 {
		n := int(k.SuspendSize / suspendContextSize)
		if len(buff)-off < n*suspendContextSize {
			return nil, errors.NewPreAggError(errors.WrongFormat, "invocation state suspend records truncated")
		}
		k.Suspend = make([]SuspendContext, n)
		for i := range k.Suspend {
			var v uint64
			v, off = encoding.ReadUint64FromBufferLE(buff, off)
			k.Suspend[i] = SuspendContext(v)
		}
	}
	if off != len(buff) {
		return nil, errors.NewPreAggErrorf(errors.WrongFormat, "%d trailing bytes after invocation state", len(buff)-off)
	}
	k.launches = 1
	return k, nil
}

func readString(buff []byte, off int) (string, int, error) {
	if len(buff)-off < 4 {
		return "", off, errors.NewPreAggError(errors.WrongFormat, "invocation state truncated")
	}
	l, _ := encoding.ReadUint32FromBufferLE(buff, off)
	if len(buff)-off-4 < int(l) {
		return "", off, errors.NewPreAggError(errors.WrongFormat, "invocation state truncated")
	}
	s, off := encoding.ReadStringFromBufferLE(buff, off)
	return s, off, nil
}
