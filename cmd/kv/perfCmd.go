package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rKV servers",
		RunE:    runPerf,
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
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
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

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one workload of the perf command. prepare runs before the
// timer starts, op runs once per iteration with a per goroutine counter.
type benchmark struct {
	name    string
	prepare bool // store every key before the run
	op      func(key string, counter int) error
}

// result is the outcome of one benchmark, latencies are measured per operation.
type result struct {
	bench   testing.BenchmarkResult
	latency gometrics.Histogram
	errors  gometrics.Counter
}

func runPerf(_ *cobra.Command, _ []string) error {
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for rKV servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	benchmarks := []benchmark{
		{name: "set", op: func(key string, _ int) error {
			return rpcClient.Set(key, "test", 0)
		}},
		{name: "set-large", op: func(key string, _ int) error {
			return rpcClient.Set(key, largeValue, 0)
		}},
		{name: "get", prepare: true, op: func(key string, _ int) error {
			_, _, err := rpcClient.Get(key)
			return err
		}},
		{name: "incr", op: func(key string, _ int) error {
			_, err := rpcClient.Incr(key)
			return err
		}},
		{name: "delete", prepare: true, op: func(key string, _ int) error {
			_, err := rpcClient.Del(key)
			return err
		}},
		{name: "exists", prepare: true, op: func(key string, _ int) error {
			_, err := rpcClient.Exists(key)
			return err
		}},
		{name: "exists-not", op: func(_ string, counter int) error {
			_, err := rpcClient.Exists(fmt.Sprintf("%s/exists-not-%d", perfKeyPrefix, counter%100))
			return err
		}},
		{name: "expire", prepare: true, op: func(key string, _ int) error {
			_, err := rpcClient.Expire(key, time.Minute)
			return err
		}},
		{name: "mixed", prepare: true, op: func(key string, counter int) error {
			var err error
			switch counter % 4 {
			case 0: // set
				err = rpcClient.Set(key, "test", 0)
			case 1: // get
				_, _, err = rpcClient.Get(key)
			case 2: // delete
				_, err = rpcClient.Del(key)
			case 3: // exists
				_, err = rpcClient.Exists(key)
			}
			return err
		}},
	}

	// Create results map
	results := make(map[string]result)
	var order []string

	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			printSkipped(bm.name)
			continue
		}
		res := runBenchmark(bm)
		results[bm.name] = res
		order = append(order, bm.name)
		printResult(bm.name, res)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark runs bm with testing.Benchmark on perfNumThreads goroutines.
func runBenchmark(bm benchmark) result {
	res := result{
		latency: gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		errors:  gometrics.NewCounter(),
	}

	res.bench = testing.Benchmark(func(b *testing.B) {
		// prepare keys
		getKey, iter := getKeys(bm.name)

		if bm.prepare {
			iter(func(k string) {
				if err := rpcClient.Set(k, "test", 0); err != nil {
					log.Printf("(%s) - error setting key: %v\n", bm.name, err)
				}
			})
		}

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := rpcClient.Del(k); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				err := bm.op(getKey(counter), counter)
				res.latency.Update(time.Since(start).Microseconds())
				if err != nil {
					res.errors.Inc(1)
					log.Printf("(%s) - error performing operation: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

func printSkipped(test string) {
	fmt.Printf("%-20sskipped\n", test)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, res result) {
	nsPerOp := math.Max(float64(res.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	p := res.latency.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s\terrors=%d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		micros(p[0]), micros(p[1]), res.errors.Count())
}

func micros(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]result, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Micros", "P99Micros", "Errors",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Protocol", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range order {
		res := results[test]
		nsPerOp := math.Max(float64(res.bench.NsPerOp()), 1)
		opsPerSec := 1.0 / (nsPerOp / 1e9)
		p := res.latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", p[0]),
			fmt.Sprintf("%.0f", p[1]),
			strconv.FormatInt(res.errors.Count(), 10),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.Itoa(config.Protocol),
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
