package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"time"

	"net/http"
	_ "net/http/pprof"

	"github.com/dropbox/godropbox/math2/rand2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/shangmacun/tpie"
	"github.com/shangmacun/tpie/ext_sort"
	"github.com/shangmacun/tpie/job"
	"github.com/shangmacun/tpie/progress"
	"github.com/shangmacun/tpie/stream"
)

// logIndicator reports progress through the standard logger at the
// contract's throttled refresh rate.
type logIndicator struct {
	*progress.Base
}

func newLogIndicator() *logIndicator {
	li := &logIndicator{}
	li.Base = progress.NewBase(li.emit)
	li.SetTimePredictor(progress.NewElapsedPredictor())
	return li
}

func (li *logIndicator) emit() {
	span := li.MaxRange() - li.MinRange()
	if span <= 0 {
		return
	}
	pct := 100 * li.Current() / span
	if eta, ok := li.EstimatedRemainingTime(); ok {
		log.Printf("%s: %d%% (eta %v)", li.Description(), pct, eta.Round(time.Second))
		return
	}
	log.Printf("%s: %d%%", li.Description(), pct)
}

func (li *logIndicator) Done() {
	log.Printf("%s: done", li.Description())
}

func main() {
	go func() {
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()
	var (
		flagRecords     int64
		flagMemoryLimit int64
		flagWorkers     int
		flagDump        bool
		flagOutputPath  string
	)
	pflag.Int64Var(&flagRecords, "records", 10000000, "number of random records to sort")
	pflag.Int64Var(&flagMemoryLimit, "memory-limit", 64<<20, "in-core byte budget (0 = unlimited)")
	pflag.IntVar(&flagWorkers, "workers", 0, "sort worker count (0 = hardware concurrency)")
	pflag.BoolVar(&flagDump, "dump", false, "dump the sorted records as text")
	pflag.StringVar(&flagOutputPath, "output-path", "", "dump destination (implies --dump)")
	pflag.Parse()
	if flagOutputPath != "" {
		flagDump = true
	} else {
		flagOutputPath = "sorted.txt"
	}

	mem := tpie.NewMemory(flagMemoryLimit)
	pool := job.NewPool(flagWorkers, &job.Options{Memory: mem})
	defer pool.Close()

	in, err := stream.NewTemp(stream.Int64, flagRecords, &stream.Options{Memory: mem})
	if err != nil {
		log.Fatal(err)
	}
	defer in.Close()
	for i := int64(0); i < flagRecords; i++ {
		if err := in.WriteItem(rand2.Int63()); err != nil {
			log.Fatal(err)
		}
	}

	out, err := stream.NewTemp(stream.Int64, flagRecords, &stream.Options{Memory: mem})
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	pi := newLogIndicator()
	pi.PushBreadcrumb("sort benchmark")
	start := time.Now()
	err = ext_sort.Sort(in, out, func(a, b int64) bool { return a < b }, &ext_sort.Options{
		Memory:   mem,
		Pool:     pool,
		Progress: pi,
	})
	if err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)

	prev := int64(0)
	sorted := true
	if err := out.Scan(func(v int64) error {
		if v < prev {
			sorted = false
		}
		prev = v
		return nil
	}); err != nil {
		log.Fatal(err)
	}
	fmt.Printf(
		"Sorted %s records (%s) in %v; output sorted: %v; budget use %s of %s\n",
		humanize.Comma(flagRecords),
		humanize.IBytes(uint64(flagRecords*8)),
		elapsed,
		sorted,
		humanize.IBytes(uint64(mem.Used())),
		humanize.IBytes(uint64(mem.Limit())))

	if flagDump {
		f, err := os.Create(flagOutputPath)
		if err != nil {
			log.Fatal(err)
		}
		w := bufio.NewWriter(f)
		if err := out.Scan(func(v int64) error {
			_, err := fmt.Fprintln(w, v)
			return err
		}); err != nil {
			log.Fatal(err)
		}
		if err := w.Flush(); err != nil {
			log.Fatal(err)
		}
		if err := f.Close(); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Dumped sorted records to %v\n", flagOutputPath)
	}
}
