package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finchdb/finch/cmd/util"
	"github.com/finchdb/finch/lib/config"
	"github.com/finchdb/finch/lib/engine"
	"github.com/finchdb/finch/lib/service"
)

var (
	// BenchCmd runs the in-process engine benchmark suite.
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "In-process performance testing for the finch engine",
		RunE:    run,
		PreRunE: processBenchConfig,
	}

	benchKeyPrefix       = "__bench"
	benchLargeValueSizeK = 100
	benchKeySpread       = 100
	benchSkip            = make([]string, 0)
)

func init() {
	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "keys"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "large-value-size"
	BenchCmd.Flags().Int(key, 100, util.WrapString("Size of the value for the set-large test (in KB)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "shards"
	BenchCmd.Flags().Int(key, 0, util.WrapString("Number of shard executors (0 = one per CPU)"))
	key = "tiered-path"
	BenchCmd.Flags().String(key, "", util.WrapString("Page file path prefix to enable tiered storage"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	util.InitViper()
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchKeySpread = viper.GetInt("keys")
	benchLargeValueSizeK = viper.GetInt("large-value-size")
	if skips := viper.GetString("skip"); skips != "" {
		benchSkip = strings.Split(skips, ",")
	}
	return nil
}

func shouldSkip(name string) bool {
	for _, s := range benchSkip {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the finch engine")

	cfg := config.FromViper()
	config.InitLoggers(cfg)

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	svc := service.NewService(e)

	fmt.Println("starting benchmarks...")

	results := make(map[string]testing.BenchmarkResult)
	record := func(name string, r testing.BenchmarkResult) {
		results[name] = r
		printResult(name, r)
	}

	key := func(i int) []byte {
		return []byte(fmt.Sprintf("%s-%d", benchKeyPrefix, i%benchKeySpread))
	}

	record("set", testing.Benchmark(func(b *testing.B) {
		if shouldSkip("set") {
			return
		}
		cn := svc.NewConn()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			svc.Dispatch(cn, "SET", key(i), []byte("value"))
			cn.TakeReply()
		}
	}))

	record("set-large", testing.Benchmark(func(b *testing.B) {
		if shouldSkip("set-large") {
			return
		}
		large := make([]byte, benchLargeValueSizeK*1024)
		cn := svc.NewConn()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			svc.Dispatch(cn, "SET", key(i), large)
			cn.TakeReply()
		}
	}))

	record("get", testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}
		cn := svc.NewConn()
		svc.Dispatch(cn, "SET", key(0), []byte("value"))
		cn.TakeReply()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			svc.Dispatch(cn, "GET", key(i))
			cn.TakeReply()
		}
	}))

	record("hset", testing.Benchmark(func(b *testing.B) {
		if shouldSkip("hset") {
			return
		}
		cn := svc.NewConn()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			svc.Dispatch(cn, "HSET", key(i), []byte(fmt.Sprintf("f%d", i%32)), []byte("v"))
			cn.TakeReply()
		}
	}))

	record("zadd", testing.Benchmark(func(b *testing.B) {
		if shouldSkip("zadd") {
			return
		}
		cn := svc.NewConn()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			score := []byte(strconv.Itoa(i % 1000))
			svc.Dispatch(cn, "ZADD", key(i), score, []byte(fmt.Sprintf("m%d", i%256)))
			cn.TakeReply()
		}
	}))

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeCSV(csvPath, results); err != nil {
			log.Printf("error writing csv: %v", err)
		}
	}
	return nil
}

func printResult(name string, r testing.BenchmarkResult) {
	if r.N == 0 {
		fmt.Printf("  %-12s skipped\n", name)
		return
	}
	fmt.Printf("  %-12s %10d ops %12.1f ns/op\n", name, r.N, float64(r.T.Nanoseconds())/float64(r.N))
}

func writeCSV(path string, results map[string]testing.BenchmarkResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"benchmark", "ops", "ns_per_op"}); err != nil {
		return err
	}
	for name, r := range results {
		nsPerOp := 0.0
		if r.N > 0 {
			nsPerOp = float64(r.T.Nanoseconds()) / float64(r.N)
		}
		if err := w.Write([]string{name, strconv.Itoa(r.N), strconv.FormatFloat(nsPerOp, 'f', 1, 64)}); err != nil {
			return err
		}
	}
	return nil
}
