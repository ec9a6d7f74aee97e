package flags

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/common"
	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/ruteri/qkd-kme/storage"
	"github.com/ruteri/qkd-kme/store"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String("log-service"),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		TLSCertFile:              cCtx.String(TLSCertFlag.Name),
		TLSKeyFile:               cCtx.String(TLSKeyFlag.Name),
		ClientCAFile:             cCtx.String(ClientCAFlag.Name),
	}
}

// KMEConfig builds and validates the service configuration from flags.
func KMEConfig(cCtx *cli.Context) (interfaces.KMEConfig, error) {
	cfg := interfaces.KMEConfig{
		KMEID:                cCtx.String(KMEIDFlag.Name),
		DefaultKeySizeBits:   cCtx.Int(KeySizeFlag.Name),
		MinKeySizeBits:       cCtx.Int(MinKeySizeFlag.Name),
		MaxKeySizeBits:       cCtx.Int(MaxKeySizeFlag.Name),
		MaxKeysPerRequest:    cCtx.Int(MaxKeysPerRequestFlag.Name),
		MaxSAEIDCount:        cCtx.Int(MaxSAEIDCountFlag.Name),
		PoolMaxSize:          cCtx.Int(PoolSizeFlag.Name),
		RefillThreshold:      cCtx.Int(RefillThresholdFlag.Name),
		CertificateExtension: cCtx.Bool(CertificateExtensionFlag.Name),
	}
	if err := cfg.Validate(); err != nil {
		return interfaces.KMEConfig{}, err
	}
	return cfg, nil
}

// OpenStore opens the configured database, creating the parent directory of
// a sqlite file, and enables at-rest sealing when a passphrase is set.
func OpenStore(cCtx *cli.Context, logger *slog.Logger) (*store.Store, error) {
	dbType := cCtx.String(DBTypeFlag.Name)
	dsn := cCtx.String(DBDSNFlag.Name)

	if dbType == store.SQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	st, err := store.Open(dbType, dsn, logger)
	if err != nil {
		return nil, err
	}

	passphrase, err := SealPassphrase(cCtx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if passphrase != nil {
		sealer, err := cryptoutils.NewSealer(passphrase)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		st.WithSealer(sealer)
	} else {
		logger.Warn("Key material is stored unsealed, set --seal-passphrase or --seal-share to encrypt it at rest")
	}
	return st, nil
}

// SealPassphrase returns the at-rest sealing passphrase, either given
// directly or combined from operator shares. It returns nil when neither is
// configured.
func SealPassphrase(cCtx *cli.Context) ([]byte, error) {
	passphrase := cCtx.String(SealPassphraseFlag.Name)
	shares := cCtx.StringSlice(SealShareFlag.Name)
	switch {
	case passphrase != "" && len(shares) > 0:
		return nil, &interfaces.ValidationError{Field: SealShareFlag.Name, Reason: "cannot be combined with --" + SealPassphraseFlag.Name}
	case passphrase != "":
		return []byte(passphrase), nil
	case len(shares) > 0:
		combined, err := cryptoutils.CombineShares(shares)
		if err != nil {
			return nil, fmt.Errorf("failed to combine seal shares: %w", err)
		}
		return combined, nil
	}
	return nil, nil
}

// ArchiveBackend builds the ledger archive backend from --archive-uri. It
// returns nil when no location is configured. Vault backends without a token
// log in with the KME server certificate.
func ArchiveBackend(cCtx *cli.Context, logger *slog.Logger) (interfaces.StorageBackend, error) {
	uris := cCtx.StringSlice(ArchiveURIFlag.Name)
	if len(uris) == 0 {
		return nil, nil
	}
	if _, err := ArchiveInterval(cCtx); err != nil {
		return nil, err
	}

	locs := make([]interfaces.ArchiveLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.ParseArchiveLocation(uri)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}

	var factory interfaces.StorageBackendFactory = storage.NewStorageBackendFactory(logger)
	certFile, keyFile := cCtx.String(TLSCertFlag.Name), cCtx.String(TLSKeyFlag.Name)
	if certFile != "" && keyFile != "" {
		factory = factory.WithTLSAuth(func() (tls.Certificate, error) {
			return tls.LoadX509KeyPair(certFile, keyFile)
		})
	}
	return factory.CreateMultiBackend(locs)
}

// ArchiveInterval returns --archive-interval, which must be positive.
func ArchiveInterval(cCtx *cli.Context) (time.Duration, error) {
	interval := cCtx.Duration(ArchiveIntervalFlag.Name)
	if interval <= 0 {
		return 0, &interfaces.ValidationError{Field: ArchiveIntervalFlag.Name, Reason: "must be positive"}
	}
	return interval, nil
}

// LoadConfigFile reads flag values from the YAML file named by --config.
// Flags set on the command line or through the environment win.
func LoadConfigFile(fs []cli.Flag) cli.BeforeFunc {
	return altsrc.InitInputSourceWithContext(fs, altsrc.NewYamlSourceFromFlagFunc(ConfigFlag.Name))
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"KME_CONFIG"},
	Usage:   "YAML file with flag values, keyed by flag name",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	EnvVars: []string{"KME_LOG_JSON"},
	Value:   false,
	Usage:   "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	EnvVars: []string{"KME_LOG_DEBUG"},
	Value:   false,
	Usage:   "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

// Server flags

var ListenAddrFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "listen-addr",
	EnvVars: []string{"KME_LISTEN_ADDR"},
	Value:   "127.0.0.1:8443",
	Usage:   "address to listen on for the ETSI API",
})
var PprofFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
})
var DrainSecondsFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
})
var MetricsAddrFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "metrics-addr",
	EnvVars: []string{"KME_METRICS_ADDR"},
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
})
var TLSCertFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "tls-cert",
	EnvVars: []string{"KME_TLS_CERT"},
	Usage:   "PEM certificate of the KME server",
})
var TLSKeyFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "tls-key",
	EnvVars: []string{"KME_TLS_KEY"},
	Usage:   "PEM private key of the KME server",
})
var ClientCAFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "client-ca",
	EnvVars: []string{"KME_CLIENT_CA"},
	Usage:   "CA bundle SAE client certificates must chain to; enables mutual TLS",
})
var InsecureSAEHeaderFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:    "insecure-sae-header",
	EnvVars: []string{"KME_INSECURE_SAE_HEADER"},
	Usage:   "trust the X-SAE-ID header when no client certificate is presented (development only)",
})

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	TLSCertFlag,
	TLSKeyFlag,
	ClientCAFlag,
	InsecureSAEHeaderFlag,
}

// Store flags

var DBTypeFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "db-type",
	EnvVars: []string{"KME_DB_TYPE"},
	Value:   store.SQLite,
	Usage:   "database type: sqlite, postgres or mysql",
})
var DBDSNFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "db-dsn",
	EnvVars: []string{"KME_DB_DSN"},
	Value:   "./data/kme.db",
	Usage:   "database DSN; a file path for sqlite",
})
var SealPassphraseFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "seal-passphrase",
	EnvVars: []string{"KME_SEAL_PASSPHRASE"},
	Usage:   "passphrase key material is sealed with at rest",
})

var SealShareFlag = altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
	Name:    "seal-share",
	EnvVars: []string{"KME_SEAL_SHARES"},
	Usage:   "operator share of the sealing passphrase, repeat up to the threshold (see kmeadmin seal-split)",
})

var StoreFlags = []cli.Flag{
	DBTypeFlag,
	DBDSNFlag,
	SealPassphraseFlag,
	SealShareFlag,
}

// KME flags

var KMEIDFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "kme-id",
	EnvVars: []string{"KME_ID"},
	Value:   interfaces.DefaultKMEID,
	Usage:   "identifier reported as source and target KME",
})
var KeySizeFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "key-size",
	EnvVars: []string{"KME_KEY_SIZE"},
	Value:   interfaces.DefaultKeySizeBits,
	Usage:   "default key size in bits",
})
var MinKeySizeFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "min-key-size",
	EnvVars: []string{"KME_MIN_KEY_SIZE"},
	Value:   interfaces.DefaultMinKeySizeBits,
	Usage:   "smallest key size in bits a request may ask for",
})
var MaxKeySizeFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "max-key-size",
	EnvVars: []string{"KME_MAX_KEY_SIZE"},
	Value:   interfaces.DefaultMaxKeySizeBits,
	Usage:   "largest key size in bits a request may ask for",
})
var MaxKeysPerRequestFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "max-keys-per-request",
	EnvVars: []string{"KME_MAX_KEYS_PER_REQUEST"},
	Value:   interfaces.DefaultMaxKeysPerRequest,
	Usage:   "maximum number of keys per enc_keys request",
})
var MaxSAEIDCountFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "max-sae-id-count",
	EnvVars: []string{"KME_MAX_SAE_ID_COUNT"},
	Value:   interfaces.DefaultMaxSAEIDCount,
	Usage:   "maximum number of additional slave SAEs per request",
})
var PoolSizeFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "pool-size",
	EnvVars: []string{"KME_POOL_SIZE"},
	Value:   interfaces.DefaultPoolMaxSize,
	Usage:   "number of unused keys a refill tops the pool up to",
})
var RefillThresholdFlag = altsrc.NewIntFlag(&cli.IntFlag{
	Name:    "refill-threshold",
	EnvVars: []string{"KME_REFILL_THRESHOLD"},
	Value:   interfaces.DefaultRefillThreshold,
	Usage:   "refill when fewer unused keys remain",
})
var CertificateExtensionFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:    "certificate-extension",
	EnvVars: []string{"KME_CERTIFICATE_EXTENSION"},
	Value:   true,
	Usage:   "include the caller certificate in key container extensions",
})

var KMEFlags = []cli.Flag{
	KMEIDFlag,
	KeySizeFlag,
	MinKeySizeFlag,
	MaxKeySizeFlag,
	MaxKeysPerRequestFlag,
	MaxSAEIDCountFlag,
	PoolSizeFlag,
	RefillThresholdFlag,
	CertificateExtensionFlag,
}

// Archive flags

var ArchiveURIFlag = altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
	Name:    "archive-uri",
	EnvVars: []string{"KME_ARCHIVE_URI"},
	Usage:   "storage location for ledger snapshots (file://, s3://, ipfs://, vault://); repeat to replicate",
})
var ArchiveIntervalFlag = altsrc.NewDurationFlag(&cli.DurationFlag{
	Name:    "archive-interval",
	EnvVars: []string{"KME_ARCHIVE_INTERVAL"},
	Value:   time.Hour,
	Usage:   "how often the ledger is archived",
})

var ArchiveFlags = []cli.Flag{
	ArchiveURIFlag,
	ArchiveIntervalFlag,
}

// Join concatenates flag groups into copies of the flags. cli.App records
// env and command line values on the flags it applies, so every app needs
// its own instances.
func Join(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		for _, f := range g {
			out = append(out, clone(f))
		}
	}
	return out
}

func clone(f cli.Flag) cli.Flag {
	switch f := f.(type) {
	case *cli.StringFlag:
		c := *f
		return &c
	case *cli.BoolFlag:
		c := *f
		return &c
	case *cli.IntFlag:
		c := *f
		return &c
	case *cli.DurationFlag:
		c := *f
		return &c
	case *cli.StringSliceFlag:
		return cloneStringSlice(f)
	case *altsrc.StringFlag:
		c := *f.StringFlag
		return altsrc.NewStringFlag(&c)
	case *altsrc.BoolFlag:
		c := *f.BoolFlag
		return altsrc.NewBoolFlag(&c)
	case *altsrc.IntFlag:
		c := *f.IntFlag
		return altsrc.NewIntFlag(&c)
	case *altsrc.DurationFlag:
		c := *f.DurationFlag
		return altsrc.NewDurationFlag(&c)
	case *altsrc.StringSliceFlag:
		return altsrc.NewStringSliceFlag(cloneStringSlice(f.StringSliceFlag))
	default:
		return f
	}
}

func cloneStringSlice(f *cli.StringSliceFlag) *cli.StringSliceFlag {
	c := *f
	if f.Value != nil {
		c.Value = cli.NewStringSlice(f.Value.Value()...)
	}
	return &c
}
