package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/config"
	"github.com/wippyai/contract-vm/crypto"
	"github.com/wippyai/contract-vm/metrics"
	"github.com/wippyai/contract-vm/runtime"
	"github.com/wippyai/contract-vm/vmtest"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFile    string
	dev        bool
	links      []string
	queries    []string
}

func (o *globalOptions) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "TOML configuration file")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&o.logFile, "log-file", "", "Write logs to a rotating file")
	flags.BoolVar(&o.dev, "dev", false, "Development logging")
	flags.StringArrayVar(&o.links, "link", nil, "Deploy another contract for dynamic links (ADDRESS=FILE)")
	flags.StringArrayVar(&o.queries, "query-response", nil, "Answer a chain query (REQUEST=RESPONSE)")
}

// app holds a runtime configured from flags and the configuration file.
type app struct {
	cfg      *config.File
	log      *zap.Logger
	rt       *runtime.Runtime
	registry *prometheus.Registry
	backend  contractvm.Backend
	closers  []io.Closer
}

func newApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	if opts.dev {
		cfg.Log.Development = true
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	setPackageLoggers(log)

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	store, err := cfg.OpenArtifactStore(ctx)
	if err != nil {
		return nil, err
	}
	state, stateCloser, err := cfg.OpenStorage(log.Named("storage"))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	a.closers = append(a.closers, stateCloser)

	querier := vmtest.NewMockQuerier()
	for _, q := range opts.queries {
		req, resp, ok := strings.Cut(q, "=")
		if !ok {
			a.close(ctx)
			return nil, fmt.Errorf("--query-response %q: want REQUEST=RESPONSE", q)
		}
		querier.Respond(req, []byte(resp))
	}
	a.backend = contractvm.Backend{
		Storage: state,
		Querier: querier,
		API:     vmtest.MockAPI{},
		Crypto:  crypto.Default{},
	}

	prom, err := metrics.NewPrometheus(metrics.WithRegistry(a.registry), metrics.WithNamespace("contractvm"))
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	rcfg := cfg.RuntimeConfig(store)
	rcfg.Observer = prom
	rt, err := runtime.New(ctx, rcfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		a.close(ctx)
		return nil, err
	}
	a.rt = rt
	if err := prom.WatchCache(rt.Cache()); err != nil {
		a.close(ctx)
		return nil, err
	}

	for _, l := range opts.links {
		address, path, ok := strings.Cut(l, "=")
		if !ok {
			a.close(ctx)
			return nil, fmt.Errorf("--link %q: want ADDRESS=FILE", l)
		}
		if _, err := a.deploy(ctx, address, path); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	return a, nil
}

// deploy stores the code at path and registers it under address.
func (a *app) deploy(ctx context.Context, address, path string) (contractvm.Checksum, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return contractvm.Checksum{}, fmt.Errorf("read %s: %w", path, err)
	}
	checksum, err := a.rt.StoreCode(ctx, code)
	if err != nil {
		return contractvm.Checksum{}, fmt.Errorf("store %s: %w", path, err)
	}
	if err := a.rt.RegisterContract(address, checksum); err != nil {
		return contractvm.Checksum{}, err
	}
	a.log.Debug("contract deployed",
		zap.String("address", address),
		zap.Stringer("checksum", checksum),
		zap.String("file", path))
	return checksum, nil
}

// cacheStats returns the runtime's module cache counters.
func (a *app) cacheStats() cache.Stats {
	return a.rt.Cache().Stats()
}

func (a *app) close(ctx context.Context) {
	if a.rt != nil {
		if err := a.rt.Close(ctx); err != nil {
			a.log.Warn("close runtime", zap.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close storage", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
