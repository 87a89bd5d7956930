package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/mitm"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/internal/config"
	"github.com/otterbrowser/contentblock/proxy"
	"github.com/otterbrowser/contentblock/update"
	"github.com/shirou/gopsutil/v3/process"
)

// shutdownTimeout is the timeout of stopping the services.
const shutdownTimeout = 10 * time.Second

// Exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
)

// components are the parts of the content blocker built from the
// configuration.
type components struct {
	store     *contentblock.ProfileStore
	scheduler *update.Scheduler
	evaluator *contentblock.Evaluator
}

// run runs the program and returns the exit code.
func run(opts *Options) (code int) {
	logger, closeLog, err := newLogger(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "creating logger: %s\n", err)

		return exitFailure
	}
	defer closeLog()

	ctx := context.Background()

	conf, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.ErrorContext(ctx, "loading config", slogutil.KeyError, err)

		return exitFailure
	}

	c, err := newComponents(logger, conf)
	if err != nil {
		logger.ErrorContext(ctx, "initializing", slogutil.KeyError, err)

		return exitFailure
	}

	if opts.CheckURL != "" {
		err = check(ctx, os.Stdout, c, opts)
	} else {
		err = serve(ctx, logger, c, opts)
	}

	if err != nil {
		logger.ErrorContext(ctx, "running", slogutil.KeyError, err)

		return exitFailure
	}

	return exitSuccess
}

// newLogger returns the logger configured by opts and the function that
// closes its output.
func newLogger(opts *Options) (logger *slog.Logger, closeLog func(), err error) {
	var out io.Writer = os.Stderr
	closeLog = func() {}

	if opts.LogOutput != "" {
		// #nosec G302 G304 -- The log file is created by the user's request.
		f, fileErr := os.OpenFile(opts.LogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if fileErr != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", fileErr)
		}

		out = f
		closeLog = func() { _ = f.Close() }
	}

	lvl := slogutil.LevelInfo
	if opts.Verbose {
		lvl = slogutil.LevelDebug
	}

	return slogutil.New(&slogutil.Config{
		Output:       out,
		Format:       slogutil.FormatText,
		Level:        lvl,
		AddTimestamp: true,
	}), closeLog, nil
}

// newComponents builds the profile store, the scheduler, and the evaluator
// from conf.
func newComponents(logger *slog.Logger, conf *config.Config) (c *components, err error) {
	clock := timeutil.SystemClock{}

	store := contentblock.NewProfileStore(&contentblock.ProfileStoreConfig{
		Logger: logger.With(slogutil.KeyPrefix, "store"),
		Clock:  clock,
	})

	for _, p := range conf.Profiles {
		err = store.AddProfile(p.ProfileConfig())
		if err != nil {
			return nil, fmt.Errorf("adding profile: %w", err)
		}
	}

	var cache *update.Cache
	if conf.CacheDir != "" {
		cache = update.NewCache(conf.CacheDir)
	}

	scheduler := update.New(&update.Config{
		Logger: logger.With(slogutil.KeyPrefix, "update"),
		Store:  store,
		Fetcher: update.NewDefaultFetcher(&update.DefaultFetcherConfig{
			UserAgent: "contentblock/" + version,
			Timeout:   conf.FetchTimeout,
			MaxSize:   conf.MaxListSize,
		}),
		Clock:       clock,
		Cache:       cache,
		CheckPeriod: conf.CheckPeriod,
	})

	evalLogger := logger.With(slogutil.KeyPrefix, "evaluator")
	evaluator, err := contentblock.NewEvaluator(&contentblock.EvaluatorConfig{
		Logger: evalLogger,
		Store:  store,
		OnBlocked: func(page string, total int64, res *contentblock.Result) {
			evalLogger.Debug("blocked", "page", page, "total", total, "profile", res.ProfileID)
		},
		AlwaysAccept: conf.UserExceptions.AlwaysAccept,
		AlwaysReject: conf.UserExceptions.AlwaysReject,
		Enabled:      conf.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("creating evaluator: %w", err)
	}

	return &components{
		store:     store,
		scheduler: scheduler,
		evaluator: evaluator,
	}, nil
}

// serve runs the scheduler and the proxy until a termination signal.
func serve(ctx context.Context, logger *slog.Logger, c *components, opts *Options) (err error) {
	err = c.scheduler.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	reportMemory(ctx, logger)

	var proxyServer *proxy.Server
	if opts.ListenPort != 0 {
		proxyServer, err = newProxy(logger, c.evaluator, opts)
		if err != nil {
			return errors.WithDeferred(err, c.scheduler.Shutdown(ctx))
		}

		err = proxyServer.Start(ctx)
		if err != nil {
			err = fmt.Errorf("starting proxy: %w", err)

			return errors.WithDeferred(err, c.scheduler.Shutdown(ctx))
		}
	}

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChannel
	logger.InfoContext(ctx, "shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if proxyServer != nil {
		errs = append(errs, proxyServer.Shutdown(shutdownCtx))
	}

	errs = append(errs, c.scheduler.Shutdown(shutdownCtx))

	return errors.Join(errs...)
}

// newProxy returns a filtering proxy configured by opts.
func newProxy(
	logger *slog.Logger,
	evaluator *contentblock.Evaluator,
	opts *Options,
) (s *proxy.Server, err error) {
	ip, err := netip.ParseAddr(opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen address: %w", err)
	}

	proxyConf := gomitmproxy.Config{
		ListenAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(opts.ListenPort))),
	}

	if opts.TLSCertPath != "" || opts.TLSKeyPath != "" {
		proxyConf.MITMConfig, err = newMITMConfig(opts.TLSCertPath, opts.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("mitm: %w", err)
		}
	}

	return proxy.NewServer(&proxy.Config{
		Logger:      logger.With(slogutil.KeyPrefix, "proxy"),
		Evaluator:   evaluator,
		ProxyConfig: proxyConf,
	}), nil
}

// newMITMConfig returns the MITM configuration with the root certificate from
// the files.
func newMITMConfig(certPath, keyPath string) (conf *mitm.Config, err error) {
	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading root ca: %w", err)
	}

	privateKey, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key: want rsa, got %T", tlsCert.PrivateKey)
	}

	x509c, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	conf, err = mitm.NewConfig(x509c, privateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating config: %w", err)
	}

	conf.SetValidity(7 * timeutil.Day)
	conf.SetOrganization("contentblock")

	return conf, nil
}

// reportMemory logs the memory used by the process after the cached lists are
// compiled.
func reportMemory(ctx context.Context, logger *slog.Logger) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		logger.DebugContext(ctx, "getting process", slogutil.KeyError, err)

		return
	}

	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		logger.DebugContext(ctx, "getting memory info", slogutil.KeyError, err)

		return
	}

	logger.InfoContext(ctx, "memory usage", "rss_kib", mi.RSS/1024, "vms_kib", mi.VMS/1024)
}
