package orchestrator

import (
	"gonum.org/v1/gonum/stat"

	"github.com/yanceya/kalico-flash/internal/output"
	"github.com/yanceya/kalico-flash/internal/types"
)

// summarize prints the batch report table (spec.md §4.9: "device, build
// status, flash status, verification status, and for failures, the tail of
// error output") plus an informational mean/stddev of elapsed build and
// flash times (SPEC_FULL.md §3/§5) -- never affects pass/fail semantics.
func summarize(sink output.Sink, results []types.BatchDeviceResult) {
	sink.Divider()
	sink.Info("batch summary (%d devices)", len(results))
	for _, r := range results {
		buildStatus := "skipped"
		if r.Build != nil {
			buildStatus = "ok"
			if !r.Build.Success {
				buildStatus = "failed"
			}
		}
		flashStatus := "skipped"
		if r.Flash != nil {
			flashStatus = "ok"
			if !r.Flash.Success {
				flashStatus = "failed"
			}
		}
		sink.Info("%-24s build=%-8s flash=%-8s verified=%v", r.Entry.Name, buildStatus, flashStatus, r.Verified)
		if r.Build != nil && !r.Build.Success {
			sink.Warning("%s build output tail:\n%s", r.Entry.Name, tail(r.Build.ErrorOutput))
		}
		if r.Flash != nil && !r.Flash.Success {
			sink.Warning("%s flash error: %s", r.Entry.Name, r.Flash.ErrorMessage)
		}
	}

	if buildMean, buildStd, ok := elapsedStats(results, func(r types.BatchDeviceResult) (float64, bool) {
		if r.Build == nil {
			return 0, false
		}
		return r.Build.ElapsedSeconds, true
	}); ok {
		sink.Info("build time: mean=%.1fs stddev=%.1fs", buildMean, buildStd)
	}
	if flashMean, flashStd, ok := elapsedStats(results, func(r types.BatchDeviceResult) (float64, bool) {
		if r.Flash == nil {
			return 0, false
		}
		return r.Flash.ElapsedSeconds, true
	}); ok {
		sink.Info("flash time: mean=%.1fs stddev=%.1fs", flashMean, flashStd)
	}
}

// elapsedStats collects the elapsed-seconds values extract reports for
// each device and returns their mean and unbiased (sample) standard
// deviation via gonum/stat.MeanStdDev. ok
// is false if fewer than one sample was available.
func elapsedStats(results []types.BatchDeviceResult, extract func(types.BatchDeviceResult) (float64, bool)) (mean, stddev float64, ok bool) {
	var samples []float64
	for _, r := range results {
		if v, present := extract(r); present {
			samples = append(samples, v)
		}
	}
	if len(samples) == 0 {
		return 0, 0, false
	}
	mean, stddev = stat.MeanStdDev(samples, nil)
	return mean, stddev, true
}

func tail(text string) string {
	const maxChars = 2000
	if len(text) <= maxChars {
		return text
	}
	return text[len(text)-maxChars:]
}
