// Package main starts a NanoProcess server.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/micromdm/nanoprocess/engine"
	enginehttp "github.com/micromdm/nanoprocess/engine/http"
	nphttp "github.com/micromdm/nanoprocess/http"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/integration/rest"
	"github.com/micromdm/nanoprocess/log/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "nanoprocess"
	apiRealm    = "nanoprocess"
)

func main() {
	var (
		flDebug   = flag.Bool("debug", false, "log debug messages")
		flListen  = flag.String("listen", ":9005", "HTTP listen address")
		flVersion = flag.Bool("version", false, "print version and exit")
		flDump    = flag.Bool("dump", false, "dump API requests")
		flAPIKey  = flag.String("api", "", "API key for API endpoints")
		flStorage = flag.String("storage", "file", "name of storage backend")
		flDSN     = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flConfig  = flag.String("integrations", "", "path to integrations YAML config")
		flWorkSec = flag.Uint("worker-interval", uint(engine.DefaultDuration/time.Second), "interval for worker in seconds")
		flLockSec = flag.Uint("lock-duration", uint(engine.DefaultLockDuration/time.Second), "process lock duration in seconds")
		flMaxStep = flag.Int("max-steps", engine.DefaultMaxStepsPerClaim, "maximum steps executed per process claim")
		flRate    = flag.Float64("rate", 0, "maximum step handler invocations per second (0 for unlimited)")
	)
	envflag.Parse("NANOPROCESS_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	if *flConfig == "" {
		logger.Info(logkeys.Error, "integrations config required")
		os.Exit(1)
	}
	cfg, err := integration.ReadConfig(*flConfig)
	if err != nil {
		logger.Info(logkeys.Message, "reading integrations config", logkeys.Error, err)
		os.Exit(1)
	}
	services := rest.NewServices(cfg, rest.WithLogger(logger.With("service", "integration")))
	if err = services.Validate(); err != nil {
		logger.Info(logkeys.Message, "validating integrations", logkeys.Error, err)
		os.Exit(1)
	}

	storage, err := parseStorage(*flStorage, *flDSN)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := engine.NewMetrics()
	metrics.MustRegister(reg)

	e := engine.New(storage,
		engine.WithLogger(logger.With("service", "engine")),
		engine.WithMetrics(metrics),
	)

	apiServices, err := registerServices(logger, e, cfg, services)
	if err != nil {
		logger.Info(logkeys.Message, "registering services", logkeys.Error, err)
		os.Exit(1)
	}

	var eWorker *engine.Worker
	if *flWorkSec > 0 {
		wOpts := []engine.WorkerOption{
			engine.WithWorkerLogger(logger.With("service", "engine worker")),
			engine.WithWorkerDuration(time.Second * time.Duration(*flWorkSec)),
			engine.WithWorkerMaxStepsPerClaim(*flMaxStep),
		}
		if *flLockSec > 0 {
			wOpts = append(wOpts, engine.WithWorkerLockDuration(time.Second*time.Duration(*flLockSec)))
		}
		if *flRate > 0 {
			wOpts = append(wOpts, engine.WithWorkerRateLimit(*flRate, 1))
		}
		eWorker = engine.NewWorker(e, wOpts...)
	}

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), "GET")

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})
			if *flDump {
				mux.Use(func(h http.Handler) http.Handler {
					return nphttp.DumpHandler(h, os.Stdout)
				})
			}

			enginehttp.HandleAPIv1("/v1", mux, logger, apiServices)
		})
	}

	if eWorker != nil {
		go func() {
			err := eWorker.Run(context.Background())
			logs := []interface{}{logkeys.Message, "engine worker stopped"}
			if err != nil {
				logger.Info(append(logs, logkeys.Error, err)...)
				return
			}
			logger.Debug(logs...)
		}()
	}

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

// newTraceID generates a new HTTP trace ID for context logging.
// Currently this just makes a random string.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
