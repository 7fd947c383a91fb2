package driver

import (
	"github.com/spirit-labs/preagg/metrics"
)

var (
	launchesCounter   = metrics.NewCounterVec("launches_total", "kernel launches", "kernel")
	suspendsCounter   = metrics.NewCounterVec("suspends_total", "launches that ended suspended", "kernel")
	expansionsCounter = metrics.NewCounter("arena_expansions_total", "global hash table expansions")
	rowsCounter       = metrics.NewCounterVec("rows_total", "source rows scanned", "outcome")
	groupsCounter     = metrics.NewCounter("groups_total", "groups created in global hash tables")
	executeHistogram  = metrics.NewHistogram("execute_seconds", "duration of Execute",
		[]float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5})
)

func (s *Stats) record() {
	launchesCounter.WithLabelValues("setup").Add(float64(s.SetupLaunches))
	launchesCounter.WithLabelValues("reduction").Add(float64(s.ReductionLaunches))
	suspendsCounter.WithLabelValues("setup").Add(float64(s.SetupSuspends))
	suspendsCounter.WithLabelValues("reduction").Add(float64(s.ReductionSuspends))
	expansionsCounter.Add(float64(s.Expansions))
	rowsCounter.WithLabelValues("filtered").Add(float64(s.NItemsFiltered))
	rowsCounter.WithLabelValues("accepted").Add(float64(s.NItemsReal - s.NItemsFiltered))
	groupsCounter.Add(float64(s.NumGroups))
}
