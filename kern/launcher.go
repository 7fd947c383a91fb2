package kern

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/errors"
	log "github.com/spirit-labs/preagg/logger"
	"golang.org/x/sync/errgroup"
)

// Kernel is the body run by every block of a launch. A returned error is recorded as a device error of the
// invocation.
type Kernel func(b *Block) error

// Launcher runs kernels. Blocks are scheduled on a pool with one worker per multiprocessor, and the warps of a
// block run concurrently.
type Launcher struct {
	pool     *ants.Pool
	warpSize int
}

func NewLauncher(cfg *conf.Config) (*Launcher, error) {
	pool, err := ants.NewPool(*cfg.NumMultiprocessors, ants.WithPreAlloc(true))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Launcher{pool: pool, warpSize: *cfg.WarpSize}, nil
}

func (l *Launcher) Close() {
	l.pool.Release()
}

func (l *Launcher) WarpSize() int {
	return l.warpSize
}

// Launch runs kernel on every block of the invocation's grid and returns once all blocks have finished.
// Device errors end up in k.KError; the returned error only reports host side failures. A panic raised by any
// lane is re-raised on the calling goroutine.
func (l *Launcher) Launch(ctx context.Context, k *KernGpuPreAgg, name string, kernel Kernel) error {
	if int(k.BlockSize)%l.warpSize != 0 {
		return errors.Errorf("block size %d is not a multiple of warp size %d", k.BlockSize, l.warpSize)
	}
	k.launches++
	k.pending = false
	k.running.Store(true)
	defer k.running.Store(false)
	log.Debugf("launching %s grid=%d block=%d resume=%t", name, k.GridSize, k.BlockSize, k.ResumeContext)

	var wg sync.WaitGroup
	var panicOnce sync.Once
	var panicVal any
	for id := 0; id < int(k.GridSize); id++ {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		b := &Block{
			ID:       id,
			Grid:     int(k.GridSize),
			Size:     int(k.BlockSize),
			WarpSize: l.warpSize,
			Kern:     k,
			Kcxt:     NewKernContext(k, name),
		}
		wg.Add(1)
		err := l.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() {
						panicVal = r
					})
				}
			}()
			if err := kernel(b); err != nil {
				b.Kcxt.SetError(err)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return errors.WithStack(err)
		}
	}
	wg.Wait()
	if panicVal != nil {
		panic(panicVal)
	}
	return nil
}

// Block is one worker unit of a launch.
type Block struct {
	ID       int
	Grid     int
	Size     int
	WarpSize int
	Kern     *KernGpuPreAgg
	Kcxt     *KernContext
}

func (b *Block) NumWarps() int {
	return b.Size / b.WarpSize
}

// SuspendContext is the suspend record of this block, or nil.
func (b *Block) SuspendContext() *SuspendContext {
	return b.Kern.SuspendContextOf(b.ID)
}

// Warp is a group of WarpSize lanes executing in lock step.
type Warp struct {
	ID    int
	Size  int
	Block *Block
}

// FirstThread is the index within the block of lane 0 of the warp.
func (w *Warp) FirstThread() int {
	return w.ID * w.Size
}

// RunWarps runs fn for every warp of the block and waits for all of them, which acts as a block wide barrier.
func (b *Block) RunWarps(fn func(w *Warp) error) error {
	var g errgroup.Group
	var panicOnce sync.Once
	var panicVal any
	for i := 0; i < b.NumWarps(); i++ {
		w := &Warp{ID: i, Size: b.WarpSize, Block: b}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() {
						panicVal = r
					})
				}
			}()
			return fn(w)
		})
	}
	err := g.Wait()
	if panicVal != nil {
		panic(panicVal)
	}
	return err
}
