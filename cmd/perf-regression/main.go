// Command perf-regression compares two `go test -bench` outputs and fails
// when a tracked benchmark's median got slower than the threshold allows.
//
//	go test -run '^$' -bench . -count 10 . > base.txt
//	# change code
//	go test -run '^$' -bench . -count 10 . > new.txt
//	go run ./cmd/perf-regression --baseline base.txt --candidate new.txt
package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const defaultThreshold = 0.30

// defaultTracked covers the hot paths views hit on every render and the
// request path the load test exercises.
var defaultTracked = map[string][]string{
	"BenchmarkDecide":             {"ns/op", "allocs/op"},
	"BenchmarkDecideParallel":     {"ns/op"},
	"BenchmarkMetricsIncParallel": {"ns/op"},
	"BenchmarkRefresh":            {"ns/op", "allocs/op"},
	"BenchmarkPublicFeed":         {"ns/op"},
}

type sampleSet map[string]map[string][]float64

func main() {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
		track         []string
	)

	pflag.StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	pflag.StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	pflag.Float64Var(&threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	pflag.StringArrayVar(&track, "track", nil, "benchmark to check as Name or Name:unit, repeatable; replaces the default set")
	pflag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "--baseline and --candidate are required")
		os.Exit(2)
	}
	if threshold < 0 {
		fmt.Fprintln(os.Stderr, "--threshold must be >= 0")
		os.Exit(2)
	}

	tracked := defaultTracked
	if len(track) > 0 {
		tracked = parseTracked(track)
	}

	baseline, err := parseBenchmarkFile(baselinePath, tracked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseBenchmarkFile(candidatePath, tracked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	failures := compare(baseline, candidate, tracked, threshold)
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure)
		}
		os.Exit(1)
	}
}

// parseTracked turns "Name" or "Name:unit" flags into the tracked set.
// A bare name tracks ns/op.
func parseTracked(flags []string) map[string][]string {
	out := map[string][]string{}
	for _, f := range flags {
		name, unit, found := strings.Cut(f, ":")
		if !found {
			unit = "ns/op"
		}
		out[name] = append(out[name], unit)
	}
	return out
}

func compare(baseline, candidate sampleSet, tracked map[string][]string, threshold float64) []string {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	fmt.Println("perf regression check:")
	fmt.Println("benchmark metric baseline candidate delta")

	for _, benchmark := range names {
		for _, metric := range tracked[benchmark] {
			baseSamples := baseline[benchmark][metric]
			candidateSamples := candidate[benchmark][metric]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", benchmark, metric))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				// allocs/op may legitimately be zero; only growth counts then.
				if candidateMedian > 0 {
					failures = append(failures, fmt.Sprintf("%s %s grew from 0 to %.3f", benchmark, metric, candidateMedian))
				}
				continue
			}

			delta := (candidateMedian - baseMedian) / baseMedian
			fmt.Printf("%s %s %.3f %.3f %+0.2f%%\n", benchmark, metric, baseMedian, candidateMedian, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", benchmark, metric, delta*100, threshold*100))
			}
		}
	}
	return failures
}

func parseBenchmarkFile(path string, tracked map[string][]string) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	samples := sampleSet{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}

		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			unit := fields[i+1]
			samples[name][unit] = append(samples[name][unit], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	copied := make([]float64, len(values))
	copy(copied, values)
	sort.Float64s(copied)

	mid := len(copied) / 2
	if len(copied)%2 == 1 {
		return copied[mid]
	}
	return (copied[mid-1] + copied[mid]) / 2
}
