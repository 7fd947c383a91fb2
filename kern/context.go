package kern

import (
	"sync/atomic"

	"github.com/spirit-labs/preagg/errors"
)

// KernContext is the per worker unit view of the invocation used by generated callbacks to report errors.
type KernContext struct {
	kern     *KernGpuPreAgg
	funcName string
	failed   atomic.Bool
}

func NewKernContext(kern *KernGpuPreAgg, funcName string) *KernContext {
	return &KernContext{kern: kern, funcName: funcName}
}

// SetError records err into the invocation error buffer (first writer wins) and stops this worker unit.
// Errors that do not carry a code are reported as DeviceError.
func (k *KernContext) SetError(err error) {
	if err == nil {
		return
	}
	k.failed.Store(true)
	var perr errors.PreAggError
	if errors.As(err, &perr) {
		k.kern.KError.Set(perr.Code, k.funcName, perr.Msg)
		return
	}
	k.kern.KError.Set(errors.DeviceError, k.funcName, err.Error())
}

// Failed reports whether this worker unit must stop contributing.
func (k *KernContext) Failed() bool {
	return k.failed.Load()
}

func (k *KernContext) Kern() *KernGpuPreAgg {
	return k.kern
}
