package kv

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/mKV/cmd/util"
	"github.com/ValentinKolb/mKV/rpc/client"
	"github.com/ValentinKolb/mKV/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for mKV servers",
		Long:    "Runs concurrent producers against one multiplexed connection and reports throughput and round trip latency",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent producers per CPU"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread < 1 {
		return fmt.Errorf("keys must be at least 1")
	}
	if perfNumThreads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	return nil
}

// benchmark is one named load pattern. prepare runs before the timer starts.
type benchmark struct {
	name    string
	prepare func(keys []string)
	op      func(keys []string, i int) error
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for mKV servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(keys []string) {
		for _, k := range keys {
			if err := rpcStore.Set(k, []byte("test")); err != nil {
				log.Printf("error setting key %s: %v\n", k, err)
			}
		}
	}

	benchmarks := []benchmark{
		{
			name: "set",
			op: func(keys []string, i int) error {
				return rpcStore.Set(keys[i%len(keys)], []byte("test"))
			},
		},
		{
			name: "set-large",
			op: func(keys []string, i int) error {
				return rpcStore.Set(keys[i%len(keys)], largeValue)
			},
		},
		{
			name:    "get",
			prepare: fill,
			op: func(keys []string, i int) error {
				_, _, err := rpcStore.Get(keys[i%len(keys)])
				return err
			},
		},
		{
			name: "get-absent",
			op: func(_ []string, i int) error {
				_, _, err := rpcStore.Get(fmt.Sprintf("%s/absent-%d", perfKeyPrefix, i%100))
				return err
			},
		},
		{
			name:    "mixed",
			prepare: fill,
			op: func(keys []string, i int) error {
				key := keys[i%len(keys)]
				if i%2 == 0 {
					return rpcStore.Set(key, []byte("test"))
				}
				_, _, err := rpcStore.Get(key)
				return err
			},
		},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		select {
		case <-rpcStore.Done():
			return fmt.Errorf("connection to %s lost before %s: %w", util.GetClientConfig().Endpoint, bm.name, rpcStore.Err())
		default:
		}
		result := runBenchmark(bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	fmt.Println()
	printClientMetrics(rpcStore.Metrics())

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runBenchmark runs one load pattern with perfNumThreads producers per CPU
func runBenchmark(bm benchmark) testing.BenchmarkResult {
	if slices.Contains(perfSkip, bm.name) {
		return testing.BenchmarkResult{}
	}

	keys := getKeys(bm.name)
	if bm.prepare != nil {
		bm.prepare(keys)
	}

	return testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := bm.op(keys, counter); err != nil {
					log.Printf("(%s) - error: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// getKeys creates the test keys of one benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// printClientMetrics prints the round trip percentiles and failure counters of the multiplexer
func printClientMetrics(registry gometrics.Registry) {
	fmt.Println("Client metrics:")

	if timer, ok := registry.Get(client.MetricRoundTrip).(gometrics.Timer); ok {
		snap := timer.Snapshot()
		ps := snap.Percentiles([]float64{0.5, 0.95, 0.99})
		fmt.Printf("  %-18s%d\n", "round trips", snap.Count())
		fmt.Printf("  %-18sp50=%s p95=%s p99=%s max=%s\n", "latency",
			time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]), time.Duration(snap.Max()))
		fmt.Printf("  %-18s%.0f/s\n", "mean rate", snap.RateMean())
	}
	for _, name := range []string{client.MetricFailures, client.MetricAbandoned, client.MetricReconnects} {
		if counter, ok := registry.Get(name).(gometrics.Counter); ok {
			fmt.Printf("  %-18s%d\n", strings.TrimPrefix(name, "mkv.client."), counter.Count())
		}
	}
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "TimeoutSec", "RetryCount", "QueueSize",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint,
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.GetQueueSize()),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
