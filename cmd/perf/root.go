package perf

import (
	"encoding/csv"
	"fmt"
	cmdUtil "github.com/ValentinKolb/sgkv/cmd/util"
	"github.com/ValentinKolb/sgkv/lib/common"
	"github.com/ValentinKolb/sgkv/lib/datastore"
	"github.com/ValentinKolb/sgkv/lib/evctx"
	"github.com/ValentinKolb/sgkv/lib/rcu"
	"github.com/ValentinKolb/sgkv/lib/store"
	"github.com/ValentinKolb/sgkv/lib/store/lstore"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/valyala/fastrand"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance tests for RCU objects and the local store",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfNumSlots   = 4
	perfKeySpread  = 100
	perfCycles     = 10000
	perfSkip       = make([]string, 0)
)

// sample is the object recorded by the store tests
type sample struct {
	value uint32
}

const sampleCLID datastore.CLID = 2201

func init() {
	datastore.MustRegisterType[*sample](sampleCLID, "PerfSample")

	// add flags
	key := "skip"
	PerfCmd.Flags().String(key, "", cmdUtil.WrapString("Benchmarks to skip (comma separated - e.g. rcu-read,record)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, cmdUtil.WrapString("Number of threads to use for the parallel benchmarks"))
	key = "slots"
	PerfCmd.Flags().Int(key, 4, cmdUtil.WrapString("Number of slots the RCU objects and stores are created for"))
	key = "keys"
	PerfCmd.Flags().Int(key, 100, cmdUtil.WrapString("How many different keys to use for the store tests"))
	key = "cycles"
	PerfCmd.Flags().Int(key, 10000, cmdUtil.WrapString("Number of event cycles for the latency measurement"))
	key = "log-level"
	PerfCmd.Flags().String(key, "error", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfNumSlots = viper.GetInt("slots")
	perfKeySpread = viper.GetInt("keys")
	perfCycles = viper.GetInt("cycles")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumSlots < 1 || perfKeySpread < 1 || perfNumThreads < 1 {
		return store.Errorf(store.RetCInvalidOperation, "slots, keys and threads must be at least 1")
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	fmt.Println("Performance tests for RCU objects and the local store")
	fmt.Println()
	fmt.Printf("Threads: %d, Slots: %d, Keys: %d\n", perfNumThreads, perfNumSlots, perfKeySpread)
	fmt.Println()
	fmt.Println("staring tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	bench := func(name string, fn func(b *testing.B)) {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}
			fn(b)
		})
		results[name] = result
		printResult(name, result)
	}

	bench("rcu-read", func(b *testing.B) {
		obj := rcu.New[sample](perfNumSlots, &sample{value: 1})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if obj.Reader().Get() == nil {
					b.Error("(rcu-read) - no current value")
					return
				}
			}
		})
	})

	bench("rcu-quiescent", func(b *testing.B) {
		obj := rcu.New[sample](perfNumSlots, &sample{value: 1})

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := obj.Quiescent(evctx.New(i%perfNumSlots, uint64(i))); err != nil {
				b.Fatalf("(rcu-quiescent) - %v", err)
			}
		}
	})

	bench("rcu-update", func(b *testing.B) {
		obj := rcu.New[sample](perfNumSlots, &sample{value: 1})

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			ctx := evctx.New(i%perfNumSlots, uint64(i))
			u := obj.Updater(ctx)
			u.Update(&sample{value: uint32(i)})
			u.Close()
			for slot := 0; slot < perfNumSlots; slot++ {
				_ = obj.Quiescent(evctx.New(slot, uint64(i)))
			}
		}
	})

	bench("record", func(b *testing.B) {
		s := newStore()
		defer s.ClearStore(true)
		getKey, _ := getKeys("record")

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if i > 0 && i%perfKeySpread == 0 {
				_ = s.ClearStore(false)
			}
			if err := s.Record(sampleCLID, &sample{value: uint32(i)}, getKey(i), true, false); err != nil {
				b.Fatalf("(record) - error recording key: %v", err)
			}
		}
	})

	bench("retrieve", func(b *testing.B) {
		s := newStore()
		defer s.ClearStore(true)
		getKey, iter := getKeys("retrieve")
		iter(func(k string) {
			if err := store.Record(s, &sample{}, k); err != nil {
				b.Fatalf("(retrieve) - error recording key: %v", err)
			}
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, found, _ := s.Retrieve(sampleCLID, getKey(int(fastrand.Uint32n(uint32(perfKeySpread))))); !found {
					b.Error("(retrieve) - recorded key not found")
					return
				}
			}
		})
	})

	bench("proxy-exact", func(b *testing.B) {
		s := newStore()
		defer s.ClearStore(true)
		_, iter := getKeys("proxy-exact")
		var sgkeys []datastore.SGKey
		iter(func(k string) {
			if err := store.Record(s, &sample{}, k); err != nil {
				b.Fatalf("(proxy-exact) - error recording key: %v", err)
			}
			sgkeys = append(sgkeys, datastore.HashKey(k, sampleCLID))
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, found := s.ProxyExact(sgkeys[fastrand.Uint32n(uint32(len(sgkeys)))]); !found {
					b.Error("(proxy-exact) - hashed key not found")
					return
				}
			}
		})
	})

	if !shouldSkip("event-cycle") {
		measureEventCycles()
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// measureEventCycles records the latency distribution of complete event
// cycles (record, retrieve, clear) over all slots.
func measureEventCycles() {
	stores := make([]store.IStore, perfNumSlots)
	for i := range stores {
		stores[i] = newStore()
	}
	getKey, _ := getKeys("event-cycle")
	timer := gometrics.NewTimer()

	for i := 0; i < perfCycles; i++ {
		s := stores[i%perfNumSlots]
		start := time.Now()
		for k := 0; k < perfKeySpread; k++ {
			_ = s.Record(sampleCLID, &sample{value: uint32(k)}, getKey(k), true, false)
		}
		for k := 0; k < perfKeySpread; k++ {
			_, _, _ = s.Retrieve(sampleCLID, getKey(k))
		}
		_ = s.ClearStore(false)
		timer.UpdateSince(start)
	}

	snap := timer.Snapshot()
	ps := snap.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-20s%d cycles\tmean %s\tp50 %s\tp99 %s\tmax %s\n", "event-cycle", snap.Count(),
		time.Duration(snap.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(snap.Max()))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func newStore() store.IStore {
	opts := lstore.DefaultOptions()
	opts.NumSlots = perfNumSlots
	return lstore.NewLocalStore(opts)
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("__perf-%s-%d", prefix, i)
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

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped", "Threads", "Slots", "Keys"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp, opsPerSec float64
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
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfNumSlots),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
