package main

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/qkd-kme/api/etsihandler"
	"github.com/ruteri/qkd-kme/api/server"
	"github.com/ruteri/qkd-kme/cmd/flags"
	"github.com/ruteri/qkd-kme/common"
	"github.com/ruteri/qkd-kme/keygen"
	"github.com/ruteri/qkd-kme/kme"
	"github.com/ruteri/qkd-kme/metrics"
	"github.com/urfave/cli/v2"
)

var _ kme.Metrics = (*metrics.KMEMetrics)(nil)

var serverFlags = flags.Join(
	[]cli.Flag{flags.ConfigFlag, flags.LogServiceFlagFn("kme")},
	flags.LogFlags,
	flags.ServerFlags,
	flags.StoreFlags,
	flags.KMEFlags,
	flags.ArchiveFlags,
)

func main() {
	app := &cli.App{
		Name:   "kme-server",
		Usage:  "Serve the ETSI GS QKD 014 key delivery API",
		Flags:  serverFlags,
		Before: flags.LoadConfigFile(serverFlags),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	kmeCfg, err := flags.KMEConfig(cCtx)
	if err != nil {
		logger.Error("Invalid KME configuration", "err", err)
		return err
	}

	serverCfg := flags.ConfigureServer(cCtx, logger)
	insecureHeader := cCtx.Bool(flags.InsecureSAEHeaderFlag.Name)
	if serverCfg.ClientCAFile == "" && !insecureHeader {
		return errors.New("callers cannot be identified: set --client-ca (with --tls-cert and --tls-key) or --insecure-sae-header")
	}
	if insecureHeader {
		logger.Warn("Trusting the X-SAE-ID header, do not use in production")
	}

	st, err := flags.OpenStore(cCtx, logger)
	if err != nil {
		logger.Error("Failed to open store", "err", err)
		return err
	}
	defer st.Close()

	svc, err := kme.NewService(kmeCfg, st, keygen.NewGenerator(), logger)
	if err != nil {
		return err
	}

	registry := kme.NewRegistry(st, logger)
	identity := etsihandler.NewIdentityMiddleware(registry, logger).WithInsecureHeader(insecureHeader)
	handler := etsihandler.NewHandler(svc, kme.NewAuthorizer(st, logger), identity, kmeCfg, logger)

	srv, err := server.New(serverCfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	kmeMetrics, err := metrics.NewKMEMetrics(common.PackageName, srv.Metrics().Registry())
	if err != nil {
		return err
	}
	svc.WithMetrics(kmeMetrics)

	err = metrics.RegisterPoolGauge(common.PackageName, srv.Metrics().Registry(), func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := st.UnusedCount(ctx, kmeCfg.DefaultKeySizeBits)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.EnsurePoolFilled(ctx); err != nil {
		logger.Error("Initial pool refill failed", "err", err)
		return err
	}

	backend, err := flags.ArchiveBackend(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure ledger archive", "err", err)
		return err
	}
	if backend != nil {
		archiver := kme.NewLedgerArchiver(kmeCfg.KMEID, st, backend, logger)
		interval, err := flags.ArchiveInterval(cCtx)
		if err != nil {
			return err
		}
		logger.Info("Archiving ledger", "location", backend.LocationURI(), "interval", interval)
		go func() {
			if err := archiver.Run(ctx, interval); err != nil {
				logger.Error("Ledger archiver stopped", "err", err)
			}
		}()
	}

	logger.Info("Starting KME", "kmeID", kmeCfg.KMEID, "dbType", st.DBType())
	srv.RunInBackground()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
