package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/ruteri/qkd-kme/cmd/flags"
	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/ruteri/qkd-kme/keygen"
	"github.com/ruteri/qkd-kme/kme"
	"github.com/ruteri/qkd-kme/store"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var flagSnapshotID = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "content id of an archived ledger (64 hex chars)",
}

var (
	flagShares = &cli.IntFlag{
		Name:  "shares",
		Value: 5,
		Usage: "number of operator shares to produce",
	}
	flagThreshold = &cli.IntFlag{
		Name:  "threshold",
		Value: 3,
		Usage: "number of shares required to reconstruct the passphrase",
	}
)

var adminFlags = flags.Join(
	[]cli.Flag{flags.ConfigFlag, flags.LogServiceFlagFn("kme-admin")},
	flags.LogFlags,
	flags.StoreFlags,
	flags.KMEFlags,
	flags.ArchiveFlags,
)

func main() {
	app := &cli.App{
		Name:           "kme-admin",
		Usage:          "Inspect and maintain a KME store",
		Flags:          adminFlags,
		Before:         flags.LoadConfigFile(adminFlags),
		DefaultCommand: "stats",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "print key and session counters",
				Action: withStore(func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error {
					snapshot, err := kme.NewLedgerArchiver(cCtx.String(flags.KMEIDFlag.Name), st, nil, log).LedgerSnapshot(cCtx.Context)
					if err != nil {
						return err
					}
					return printYAML(snapshot.Stats)
				}),
			},
			{
				Name:  "sessions",
				Usage: "print the session ledger",
				Action: withStore(func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error {
					snapshot, err := kme.NewLedgerArchiver(cCtx.String(flags.KMEIDFlag.Name), st, nil, log).LedgerSnapshot(cCtx.Context)
					if err != nil {
						return err
					}
					return printYAML(snapshot)
				}),
			},
			{
				Name:  "saes",
				Usage: "print registered SAEs",
				Action: withStore(func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error {
					identities, err := kme.NewRegistry(st, log).List(cCtx.Context)
					if err != nil {
						return err
					}
					out := make([]kme.SAESnapshot, 0, len(identities))
					for _, sae := range identities {
						out = append(out, kme.SAESnapshot(sae))
					}
					return printYAML(out)
				}),
			},
			{
				Name:  "refill",
				Usage: "top the key pool up if it is under the refill threshold",
				Action: withStore(func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error {
					cfg, err := flags.KMEConfig(cCtx)
					if err != nil {
						return err
					}
					svc, err := kme.NewService(cfg, st, keygen.NewGenerator(), log)
					if err != nil {
						return err
					}
					if err := svc.EnsurePoolFilled(cCtx.Context); err != nil {
						return err
					}
					stats, err := svc.Stats(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Printf("unused keys: %d of %d\n", stats.UnusedKeys, stats.TotalKeys)
					return nil
				}),
			},
			{
				Name:  "export-ledger",
				Usage: "archive the session ledger and SAE registry to --archive-uri",
				Action: withStore(func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error {
					archiver, err := newArchiver(cCtx, st, log)
					if err != nil {
						return err
					}
					ledgerID, err := archiver.ArchiveLedger(cCtx.Context)
					if err != nil {
						return err
					}
					registryID, err := archiver.ArchiveRegistry(cCtx.Context)
					if err != nil {
						return err
					}
					return printYAML(map[string]string{
						"ledger":   ledgerID.String(),
						"registry": registryID.String(),
					})
				}),
			},
			{
				Name:  "seal-split",
				Usage: "split the sealing passphrase into operator shares for --seal-share",
				Flags: []cli.Flag{flagShares, flagThreshold},
				Action: func(cCtx *cli.Context) error {
					passphrase, err := flags.SealPassphrase(cCtx)
					if err != nil {
						return err
					}
					if passphrase == nil {
						return errors.New("--seal-passphrase or --seal-share is required")
					}
					shares, err := cryptoutils.SplitPassphrase(passphrase, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
					if err != nil {
						return err
					}
					return printYAML(map[string]any{
						"threshold": cCtx.Int(flagThreshold.Name),
						"shares":    shares,
					})
				},
			},
			{
				Name:  "show-ledger",
				Usage: "print an archived ledger snapshot",
				Flags: []cli.Flag{flagSnapshotID},
				Action: withStore(func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error {
					id, err := interfaces.ParseContentID(cCtx.String(flagSnapshotID.Name))
					if err != nil {
						return err
					}
					archiver, err := newArchiver(cCtx, st, log)
					if err != nil {
						return err
					}
					snapshot, err := archiver.FetchLedger(cCtx.Context, id)
					if err != nil {
						return err
					}
					return printYAML(snapshot)
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withStore(fn func(cCtx *cli.Context, st *store.Store, log *slog.Logger) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		st, err := flags.OpenStore(cCtx, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cCtx, st, logger)
	}
}

func newArchiver(cCtx *cli.Context, st *store.Store, log *slog.Logger) (*kme.LedgerArchiver, error) {
	backend, err := flags.ArchiveBackend(cCtx, log)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("--archive-uri is required")
	}
	return kme.NewLedgerArchiver(cCtx.String(flags.KMEIDFlag.Name), st, backend, log), nil
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
