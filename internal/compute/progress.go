package compute

import (
	"time"

	"github.com/rs/zerolog"
)

// ProgressSink receives progress reports as percentages in [0, 100].
// The monitor drives a sink from a single goroutine; implementations do
// not need to be concurrency-safe.
type ProgressSink interface {
	Report(percent float64)
}

// ProgressStarter is an optional sink capability invoked once before the
// first report.
type ProgressStarter interface {
	Start()
}

// ProgressFinisher is an optional sink capability invoked once after the
// final report.
type ProgressFinisher interface {
	Finish()
}

// DefaultPollInterval is the fallback wait between completion checks when
// the computation stays quiet.
const DefaultPollInterval = 500 * time.Millisecond

// MonitorProgress drives sink while comp runs. It reports after every
// advance of the completed count and always ends with exactly one
// terminal 100 report, also when the computation has zero sub-tasks. A
// nil sink returns immediately. Start and Finish run when the sink
// implements them. The monitor wakes on completion signals and falls
// back to polling at interval (DefaultPollInterval when non-positive),
// so it never spins.
//
// MonitorProgress returns when no sub-tasks remain pending, including
// runs that were canceled after a sub-task failure.
func MonitorProgress(comp *Computation, sink ProgressSink, interval time.Duration) {
	if sink == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if s, ok := sink.(ProgressStarter); ok {
		s.Start()
	}

	last := -1
	for {
		done, total := comp.Counts()
		if done >= total {
			break
		}
		if done != last {
			sink.Report(float64(done) / float64(total) * 100)
			last = done
		}
		select {
		case <-comp.advance:
		case <-time.After(interval):
		}
	}
	sink.Report(100.0)

	if f, ok := sink.(ProgressFinisher); ok {
		f.Finish()
	}
}

// LogSink reports progress to a zerolog logger in coarse steps, for
// long-running jobs where per-block reports would flood the log.
type LogSink struct {
	Logger zerolog.Logger
	Step   float64 // minimum percent between reports; 10 when zero

	primed bool
	last   float64
}

// Start resets the sink.
func (s *LogSink) Start() {
	s.primed = false
}

// Report logs the percentage when it moved at least Step since the last
// logged value, and always logs the terminal 100.
func (s *LogSink) Report(percent float64) {
	step := s.Step
	if step <= 0 {
		step = 10
	}
	if s.primed && percent < 100 && percent < s.last+step {
		return
	}
	s.Logger.Info().Float64("percent", percent).Msg("progress")
	s.primed = true
	s.last = percent
}
