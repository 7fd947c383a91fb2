package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/spirit-labs/preagg/common"
	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/encoding"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/hashtable"
	"github.com/spirit-labs/preagg/kds"
	"github.com/spirit-labs/preagg/kern"
	log "github.com/spirit-labs/preagg/logger"
	"github.com/spirit-labs/preagg/preagg"
	"github.com/spirit-labs/preagg/progbuild"
	"github.com/spirit-labs/preagg/types"
)

// Driver is the host side of pre-aggregation. It sizes the device buffers, launches setup and reduction, grows
// the global table whenever a reduction suspends and reads back the finalized groups.
type Driver struct {
	cfg      conf.Config
	launcher *kern.Launcher
	programs *ProgramCache
}

func New(cfg conf.Config) (*Driver, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	launcher, err := kern.NewLauncher(&cfg)
	if err != nil {
		return nil, err
	}
	programs, err := NewProgramCache(*cfg.ProgramCacheSize)
	if err != nil {
		launcher.Close()
		return nil, errors.WithStack(err)
	}
	return &Driver{cfg: cfg, launcher: launcher, programs: programs}, nil
}

func (d *Driver) Close() {
	d.launcher.Close()
}

func (d *Driver) Config() conf.Config {
	return d.cfg
}

func (d *Driver) Programs() *ProgramCache {
	return d.programs
}

// Query compiles q, reusing a cached program when an identical query ran before, and executes it over src.
func (d *Driver) Query(ctx context.Context, q progbuild.Query, src kds.Source) (*Result, error) {
	if q.RegisterBits == 0 {
		q.RegisterBits = *d.cfg.HLLRegisterBits
	}
	if cs, ok := src.(*kds.ColumnSource); ok {
		if err := checkColumnTypes(q.ColumnTypes, cs.Batch.Schema.ColumnTypes()); err != nil {
			return nil, err
		}
	}
	prog, err := d.programs.GetOrCompile(q)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, prog, src)
}

// checkColumnTypes verifies that a column batch carries the column types the query was written against.
func checkColumnTypes(want []types.ColumnType, got []types.ColumnType) error {
	match := len(want) == len(got)
	for i := 0; match && i < len(want); i++ {
		match = types.ColumnTypesEqual(want[i], got[i])
	}
	if !match {
		return errors.NewPreAggErrorf(errors.WrongFormat, "column batch has types (%s), query expects (%s)",
			types.ColumnTypesToString(got), types.ColumnTypesToString(want))
	}
	return nil
}

type fingerprinter interface {
	Fingerprint() uint64
}

// execution is the state of one Execute call.
type execution struct {
	d      *Driver
	prog   preagg.Program
	layout *kds.Layout
	slots  *kds.SlotBuffer
	table  *hashtable.GlobalHashTable
	setup  *kern.KernGpuPreAgg
	reduce *kern.KernGpuPreAgg
	stats  Stats
	logger *log.Logger
}

// Execute runs prog over src to completion. Setup fills the slot buffer and, when it suspends because the buffer
// is full, the rows gathered so far are reduced before setup resumes into the emptied buffer.
func (d *Driver) Execute(ctx context.Context, prog preagg.Program, src kds.Source) (*Result, error) {
	start := time.Now()
	layout := prog.Layout()
	var params []byte
	fields := []interface{}{"source", src.Format().String(), "rows", src.NRows()}
	if fp, ok := prog.(fingerprinter); ok {
		params = encoding.AppendUint64ToBufferLE(params, fp.Fingerprint())
		fields = append(fields, "program", fmt.Sprintf("%016x", fp.Fingerprint()))
	}
	capacity := src.NRows()
	if src.Format() == kds.FormatBlock {
		capacity = min(capacity, int(*d.cfg.SlotBufferCapacity))
	}
	grid, block := *d.cfg.GridSize, *d.cfg.BlockSize
	e := &execution{
		d:      d,
		prog:   prog,
		layout: layout,
		slots:  kds.NewSlotBuffer(layout, capacity),
		table: hashtable.NewGlobalHashTable(int(*d.cfg.ArenaWords), *d.cfg.GlobalHashSlots,
			layout.FinalWords()),
		setup:  kern.NewKernGpuPreAgg(layout.NumGroupKeys(), grid, block, src.Format(), params, true),
		reduce: kern.NewKernGpuPreAgg(layout.NumGroupKeys(), grid, block, kds.FormatRow, params, true),
		logger: log.With(fields...),
	}
	for {
		if err := preagg.Setup(ctx, d.launcher, e.setup, prog, src, e.slots); err != nil {
			return nil, err
		}
		if err := checkDevice(e.setup); err != nil {
			return nil, err
		}
		if err := e.reduceSlots(ctx); err != nil {
			return nil, err
		}
		if e.setup.State() == kern.StateComplete {
			break
		}
		if e.slots.NItems() == 0 {
			return nil, common.LogInternalError(errors.Errorf("setup suspended without accepting a row (capacity %d)",
				e.slots.Capacity()))
		}
		e.stats.SetupSuspends++
		e.logger.Debugf("setup suspended by %d blocks after %d rows, resuming", e.setup.SuspendCount.Load(),
			e.setup.NItemsReal.Load())
		e.slots.Reset()
		e.setup.Reset(true)
	}
	res := e.result()
	res.Stats.record()
	executeHistogram.Observe(time.Since(start).Seconds())
	return res, nil
}

// reduceSlots folds the slot buffer into the global table, expanding the table and resuming as long as the
// reduction suspends.
func (e *execution) reduceSlots(ctx context.Context) error {
	cfg := &e.d.cfg
	e.reduce.Reset(false)
	for attempt := 0; ; attempt++ {
		var err error
		if e.reduce.IsNoGroup() {
			err = preagg.NoGroupReduction(ctx, e.d.launcher, e.reduce, e.prog, e.slots, e.table)
		} else {
			err = preagg.GroupByReduction(ctx, e.d.launcher, e.reduce, e.prog, e.slots, e.table, *cfg.LocalHashNRooms)
		}
		if err != nil {
			return err
		}
		if err := checkDevice(e.reduce); err != nil {
			return err
		}
		if e.reduce.State() == kern.StateComplete {
			return nil
		}
		if attempt+1 >= *cfg.MaxResumeAttempts {
			return errors.NewPreAggErrorf(errors.ResumeLimitExceeded,
				"reduction still suspended after %d attempts with a %d word arena", attempt+1, e.table.Arena().Len())
		}
		e.stats.ReductionSuspends++
		if err := e.expand(); err != nil {
			return err
		}
		e.reduce.Reset(true)
	}
}

func (e *execution) expand() error {
	growth := *e.d.cfg.ArenaGrowthFactor
	oldLen := e.table.Arena().Len()
	length := int(float64(oldLen) * growth)
	if length <= oldLen {
		length = oldLen + 1
	}
	nslots := int(float64(e.table.NSlots()) * growth)
	e.logger.Debugf("global hash table overflow, expanding arena from %d to %d words and %d to %d slots", oldLen,
		length, e.table.NSlots(), nslots)
	if err := e.table.Expand(length, nslots); err != nil {
		return common.LogInternalError(err)
	}
	e.stats.Expansions++
	return nil
}

// checkDevice turns an error recorded by device code into a DeviceError for the caller. The original error is
// only logged, against a reference the caller gets back.
func checkDevice(k *kern.KernGpuPreAgg) error {
	kerr := k.KError.Err()
	if kerr == nil {
		return nil
	}
	ref := common.LogInternalError(errors.Wrapf(kerr, "device error (%s)", k.KError.Code()))
	return errors.NewPreAggErrorf(errors.DeviceError, "%s failed with %s: %s - %s", k.KError.FuncName(),
		k.KError.Code(), k.KError.Message(), ref.Msg)
}

func (e *execution) result() *Result {
	s := &e.stats
	s.NItemsReal = e.setup.NItemsReal.Load()
	s.NItemsFiltered = e.setup.NItemsFiltered.Load()
	s.NumGroups = e.reduce.NumGroups.Load()
	s.ExtraUsage = e.reduce.ExtraUsage.Load()
	s.LocalFallbacks = e.reduce.StatDebug1.Load()
	s.LocalItems = e.reduce.StatDebug2.Load()
	s.Abandoned = e.reduce.StatDebug3.Load()
	s.SetupLaunches = e.setup.Launches()
	s.ReductionLaunches = e.reduce.Launches()
	columns := make([]string, len(e.layout.Columns))
	for i, c := range e.layout.Columns {
		columns[i] = c.Name
	}
	e.logger.Debugf("pre-aggregation complete: %d rows, %d filtered, %d groups, %d launches", s.NItemsReal,
		s.NItemsFiltered, s.NumGroups, s.SetupLaunches+s.ReductionLaunches)
	return &Result{
		Columns: columns,
		Groups:  readBack(e.layout, e.table),
		NumKeys: e.layout.NumGroupKeys(),
		Stats:   *s,
	}
}
