// Command walctl runs one of the named crash-recovery scenarios (s1
// through s7) against a data directory and reports the WAL's final record
// counts and which tuples survived.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"walcore/internal/config"
	"walcore/internal/scenario"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stdout)
	registerer := prometheus.NewRegistry()

	name := flag.String("scenario", "s1", "scenario to run (s1..s7)")
	dataDir := flag.String("data-dir", "data", "directory for the log and heap files")
	cfgPath := flag.String("config", "", "optional YAML config path")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			level.Error(logger).Log("err", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if err := os.MkdirAll(cfg.DataDir, 0777); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}

	h, err := scenario.New(cfg,
		filepath.Join(cfg.DataDir, "wal.log"),
		filepath.Join(cfg.DataDir, "heap.dat"),
		logger, registerer)
	if err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		result, err := scenario.ByName(*name, h)
		if err != nil {
			level.Error(logger).Log("msg", "scenario failed", "scenario", *name, "err", err)
			close(done)
			return
		}

		level.Info(logger).Log("msg", "scenario complete", "scenario", result.Name, "total_records", result.TotalRecords)
		for field, present := range result.Present {
			level.Info(logger).Log("field", field, "present", present)
		}
		for field, absent := range result.Absent {
			level.Info(logger).Log("field", field, "absent", absent)
		}
		close(done)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-sigs:
		level.Info(logger).Log("msg", "interrupted")
	}

	wg.Wait()
	logger.Log("msg", "exiting...")
}
