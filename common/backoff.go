package common

import (
	"runtime"

	"github.com/spirit-labs/preagg/conf"
)

// CASBackoff tracks consecutive failed compare-and-swap attempts of one spinning lane. Every
// conf.DefaultCASYieldInterval failures the lane yields, so a preempted winner always gets to run.
type CASBackoff struct {
	failures int
}

func (b *CASBackoff) Fail() {
	b.failures++
	if b.failures%conf.DefaultCASYieldInterval == 0 {
		runtime.Gosched()
	}
}

func (b *CASBackoff) Failures() int {
	return b.failures
}
