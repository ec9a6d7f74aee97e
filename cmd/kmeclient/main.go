package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/api/clients"
	"github.com/ruteri/qkd-kme/common"
	"github.com/urfave/cli/v2"
)

var flagKMEURL = &cli.StringFlag{
	Name:    "kme-url",
	EnvVars: []string{"KME_URL"},
	Value:   common.GetEnv("KME_DEFAULT_URL", "https://127.0.0.1:8443"),
	Usage:   "base URL of the KME",
}
var flagCert = &cli.StringFlag{
	Name:    "cert",
	EnvVars: []string{"KME_SAE_CERT"},
	Usage:   "SAE client certificate (PEM)",
}
var flagKey = &cli.StringFlag{
	Name:    "key",
	EnvVars: []string{"KME_SAE_KEY"},
	Usage:   "SAE client private key (PEM)",
}
var flagCA = &cli.StringFlag{
	Name:    "ca",
	EnvVars: []string{"KME_CA"},
	Usage:   "CA certificate the KME server certificate chains to",
}
var flagSAEHeader = &cli.StringFlag{
	Name:  "sae-id",
	Usage: "send X-SAE-ID instead of a client certificate (KMEs in insecure header mode only)",
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
}

var flagSlave = &cli.StringFlag{
	Name:     "slave",
	Required: true,
	Usage:    "slave SAE ID",
}
var flagMaster = &cli.StringFlag{
	Name:     "master",
	Required: true,
	Usage:    "master SAE ID that allocated the keys",
}
var flagNumber = &cli.IntFlag{
	Name:  "number",
	Usage: "number of keys; the KME default when unset",
}
var flagSize = &cli.IntFlag{
	Name:  "size",
	Usage: "key size in bits; the KME default when unset",
}
var flagAdditional = &cli.StringSliceFlag{
	Name:  "additional-slave",
	Usage: "additional slave SAE ID; repeatable",
}
var flagKeyID = &cli.StringSliceFlag{
	Name:     "key-id",
	Required: true,
	Usage:    "key ID to retrieve; repeatable",
}

func main() {
	app := &cli.App{
		Name:  "kme-client",
		Usage: "Call the ETSI GS QKD 014 API of a KME",
		Flags: []cli.Flag{flagKMEURL, flagCert, flagKey, flagCA, flagSAEHeader, flagTimeout},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show key pool status towards a slave SAE",
				Flags: []cli.Flag{flagSlave},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					status, err := client.Status(cCtx.Context, cCtx.String(flagSlave.Name))
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "enc-keys",
				Usage: "request keys shared with a slave SAE",
				Flags: []cli.Flag{flagSlave, flagNumber, flagSize, flagAdditional},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}

					req := api.KeyRequest{AdditionalSlaveSAEIDs: cCtx.StringSlice(flagAdditional.Name)}
					if cCtx.IsSet(flagNumber.Name) {
						n := cCtx.Int(flagNumber.Name)
						req.Number = &n
					}
					if cCtx.IsSet(flagSize.Name) {
						s := cCtx.Int(flagSize.Name)
						req.Size = &s
					}

					keys, err := client.EncKeys(cCtx.Context, cCtx.String(flagSlave.Name), req)
					if err != nil {
						return err
					}
					return printJSON(keys)
				},
			},
			{
				Name:  "dec-keys",
				Usage: "retrieve keys a master SAE allocated to this SAE",
				Flags: []cli.Flag{flagMaster, flagKeyID},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					keys, err := client.DecKeys(cCtx.Context, cCtx.String(flagMaster.Name), cCtx.StringSlice(flagKeyID.Name))
					if err != nil {
						return err
					}
					return printJSON(keys)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*clients.KMEClient, error) {
	opts := []clients.Option{clients.WithTimeout(cCtx.Duration(flagTimeout.Name))}

	cert, key := cCtx.String(flagCert.Name), cCtx.String(flagKey.Name)
	switch {
	case cert != "" && key != "":
		opts = append(opts, clients.WithClientCertificate(cert, key))
	case cert != "" || key != "":
		return nil, errors.New("--cert and --key must be given together")
	}
	if ca := cCtx.String(flagCA.Name); ca != "" {
		opts = append(opts, clients.WithRootCA(ca))
	}
	if saeID := cCtx.String(flagSAEHeader.Name); saeID != "" {
		opts = append(opts, clients.WithSAEHeader(saeID))
	}

	return clients.NewKMEClient(cCtx.String(flagKMEURL.Name), opts...)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
