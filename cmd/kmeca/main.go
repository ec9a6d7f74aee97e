package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/qkd-kme/cmd/flags"
	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/urfave/cli/v2"
)

var (
	flagDir = &cli.StringFlag{
		Name:    "dir",
		Value:   "./pki",
		Usage:   "directory holding ca.crt and ca.key; issued files are written here too",
		EnvVars: []string{"KME_PKI_DIR"},
	}
	flagValidity = &cli.DurationFlag{
		Name:  "validity",
		Value: 365 * 24 * time.Hour,
		Usage: "validity of issued certificates",
	}
	flagCACN = &cli.StringFlag{
		Name:  "cn",
		Value: "KME Lab CA",
		Usage: "CA common name",
	}
	flagCAOrg = &cli.StringFlag{
		Name:  "org",
		Value: "QKD Lab",
		Usage: "CA organization",
	}
	flagKMEName = &cli.StringFlag{
		Name:     "name",
		Required: true,
		Usage:    "KME id, used as common name and file name",
	}
	flagHosts = &cli.StringSliceFlag{
		Name:  "host",
		Value: cli.NewStringSlice("localhost", "127.0.0.1"),
		Usage: "DNS name or IP address the KME is reached at (repeatable)",
	}
	flagSAEID = &cli.StringFlag{
		Name:     "sae-id",
		Required: true,
		Usage:    "SAE id, used as common name and file name",
	}
	flagOU = &cli.StringFlag{
		Name:  "ou",
		Usage: "organizational unit of the SAE certificate",
	}
	flagCSR = &cli.StringFlag{
		Name:     "csr",
		Required: true,
		Usage:    "PEM certificate signing request",
	}
	flagUsage = &cli.StringFlag{
		Name:  "usage",
		Value: "client",
		Usage: "certificate usage: client (SAE) or server (KME)",
	}
	flagCert = &cli.StringFlag{
		Name:     "cert",
		Required: true,
		Usage:    "PEM certificate",
	}
	flagKey = &cli.StringFlag{
		Name:  "key",
		Usage: "PEM private key matching --cert",
	}
	flagExpectCN = &cli.StringFlag{
		Name:  "expect-cn",
		Usage: "required common name of --cert",
	}
)

func main() {
	app := &cli.App{
		Name:  "kme-ca",
		Usage: "Lab certificate authority for KMEs and SAEs",
		Flags: flags.Join([]cli.Flag{flagDir, flags.LogServiceFlagFn("kme-ca")}, flags.LogFlags),
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "create a new CA in --dir",
				Flags:  []cli.Flag{flagCACN, flagCAOrg, flagValidity},
				Action: initCA,
			},
			{
				Name:   "issue-server",
				Usage:  "issue a KME server certificate",
				Flags:  []cli.Flag{flagKMEName, flagHosts, flagValidity},
				Action: issueServer,
			},
			{
				Name:   "issue-sae",
				Usage:  "issue an SAE client certificate",
				Flags:  []cli.Flag{flagSAEID, flagOU, flagValidity},
				Action: issueSAE,
			},
			{
				Name:   "sign-csr",
				Usage:  "sign a CSR and print the certificate",
				Flags:  []cli.Flag{flagCSR, flagUsage, flagValidity},
				Action: signCSR,
			},
			{
				Name:   "verify",
				Usage:  "check a certificate against the CA and optionally its key",
				Flags:  []cli.Flag{flagCert, flagKey, flagExpectCN},
				Action: verify,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func caPaths(cCtx *cli.Context) (string, string) {
	dir := cCtx.String(flagDir.Name)
	return filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")
}

func initCA(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	certPath, keyPath := caPaths(cCtx)
	if _, err := os.Stat(keyPath); err == nil {
		return fmt.Errorf("CA already exists at %s", keyPath)
	}

	ca, err := cryptoutils.NewCertificateAuthority(cCtx.String(flagCACN.Name), cCtx.String(flagCAOrg.Name), cCtx.Duration(flagValidity.Name))
	if err != nil {
		return err
	}
	keyPEM, err := ca.KeyPEM()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cCtx.String(flagDir.Name), 0o700); err != nil {
		return err
	}
	if err := writePair(certPath, ca.CertPEM(), keyPath, keyPEM); err != nil {
		return err
	}
	logger.Info("Created CA", "cert", certPath)
	return nil
}

func loadCA(cCtx *cli.Context) (*cryptoutils.CertificateAuthority, error) {
	certPath, keyPath := caPaths(cCtx)
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate (run init first): %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	return cryptoutils.LoadCertificateAuthority(certPEM, keyPEM)
}

func issueServer(cCtx *cli.Context) error {
	name := cCtx.String(flagKMEName.Name)
	return issue(cCtx, flags.SetupLogger(cCtx), name, "", cryptoutils.ServerCert, cCtx.StringSlice(flagHosts.Name))
}

func issueSAE(cCtx *cli.Context) error {
	saeID := cCtx.String(flagSAEID.Name)
	return issue(cCtx, flags.SetupLogger(cCtx), saeID, cCtx.String(flagOU.Name), cryptoutils.ClientCert, nil)
}

func issue(cCtx *cli.Context, logger *slog.Logger, cn, ou string, usage cryptoutils.CertUsage, hosts []string) error {
	ca, err := loadCA(cCtx)
	if err != nil {
		return err
	}

	keyPEM, cert, err := ca.IssueKeyPair(cn, ou, usage, hosts, cCtx.Duration(flagValidity.Name))
	if err != nil {
		return err
	}

	dir := cCtx.String(flagDir.Name)
	certPath, keyPath := filepath.Join(dir, cn+".crt"), filepath.Join(dir, cn+".key")
	if err := writePair(certPath, cert, keyPath, keyPEM); err != nil {
		return err
	}
	logger.Info("Issued certificate", "cn", cn, "cert", certPath, "key", keyPath)
	return nil
}

func signCSR(cCtx *cli.Context) error {
	ca, err := loadCA(cCtx)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(cCtx.String(flagCSR.Name))
	if err != nil {
		return err
	}
	csr, err := cryptoutils.NewTLSCSR(raw)
	if err != nil {
		return err
	}

	var usage cryptoutils.CertUsage
	switch cCtx.String(flagUsage.Name) {
	case "client":
		usage = cryptoutils.ClientCert
	case "server":
		usage = cryptoutils.ServerCert
	default:
		return fmt.Errorf("unknown usage %q", cCtx.String(flagUsage.Name))
	}

	cert, err := ca.SignCSR(csr, usage, cCtx.Duration(flagValidity.Name))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(cert)
	return err
}

func verify(cCtx *cli.Context) error {
	certPath, _ := caPaths(cCtx)
	caPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	certPEM, err := os.ReadFile(cCtx.String(flagCert.Name))
	if err != nil {
		return err
	}
	cert, err := cryptoutils.NewTLSCert(certPEM)
	if err != nil {
		return err
	}

	if err := cryptoutils.CACert(caPEM).VerifyCertificate(cert); err != nil {
		return fmt.Errorf("certificate not issued by this CA: %w", err)
	}

	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return err
	}

	expectCN := cCtx.String(flagExpectCN.Name)
	if keyFile := cCtx.String(flagKey.Name); keyFile != "" {
		keyPEM, err := os.ReadFile(keyFile)
		if err != nil {
			return err
		}
		if expectCN == "" {
			expectCN = x509Cert.Subject.CommonName
		}
		if err := cryptoutils.VerifyCertificate(keyPEM, certPEM, expectCN); err != nil {
			return err
		}
	} else if expectCN != "" {
		return errors.New("--expect-cn requires --key")
	}

	info, err := cryptoutils.SAEIdentityFromCertificate(x509Cert)
	if err != nil {
		return err
	}
	fmt.Printf("OK %s (serial %s, expires %s)\n", info.SAEID, info.Serial, x509Cert.NotAfter.Format(time.RFC3339))
	return nil
}

func writePair(certPath string, certPEM []byte, keyPath string, keyPEM []byte) error {
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", keyPath, err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", certPath, err)
	}
	return nil
}
