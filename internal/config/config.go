// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/carpool-ledger/internal/archive"
	"github.com/withObsrvr/carpool-ledger/internal/audit"
	"github.com/withObsrvr/carpool-ledger/internal/catalog"
	"github.com/withObsrvr/carpool-ledger/internal/journal"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/metrics"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

type Config struct {
	Ledger  LedgerConfig   `yaml:"ledger"`
	HTTP    HTTPConfig     `yaml:"http"`
	Logging logging.Config `yaml:"logging"`
	Metrics metrics.Config `yaml:"metrics"`
	Archive archive.Config `yaml:"archive"`
	Audit   audit.Config   `yaml:"audit"`
	Catalog catalog.Config `yaml:"catalog"`
	Journal journal.Config `yaml:"journal"`
	Notify  notify.Config  `yaml:"notify"`
	Wallet  WalletConfig   `yaml:"wallet"`
	Tokens  TokenConfig    `yaml:"tokens"`
}

type LedgerConfig struct {
	RPCURL         string                 `yaml:"rpc_url"`
	NetworkID      string                 `yaml:"network_id"`
	ArtifactsDir   string                 `yaml:"artifacts_dir"`
	SignerKey      string                 `yaml:"signer_key"`
	ConfirmTimeout time.Duration          `yaml:"confirm_timeout"`
	Tables         map[string]TableConfig `yaml:"tables"`
}

// TableConfig overrides the contract functions of one table.
type TableConfig struct {
	Getter string `yaml:"getter"`
	Setter string `yaml:"setter"`
}

type HTTPConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type WalletConfig struct {
	// Preload fills the wallet directory from the accounts table at startup.
	Preload bool `yaml:"preload"`
}

// TokenConfig holds grant amounts in whole tokens. Zero disables a grant.
type TokenConfig struct {
	SignupGrant      int64 `yaml:"signup_grant"`
	DistributeAmount int64 `yaml:"distribute_amount"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:         "http://127.0.0.1:9545",
			NetworkID:      "5777",
			ArtifactsDir:   "build/contracts",
			ConfirmTimeout: 2 * time.Minute,
		},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 3 * time.Minute,
		},
		Logging: logging.Config{Format: "json", Level: "info"},
		Metrics: metrics.Config{Address: ":9090", Namespace: "carpool_ledger"},
		Archive: archive.Config{Prefix: "archive/"},
		Audit:   audit.Config{BackupDir: "./audit-backup"},
		Journal: journal.Config{Enabled: true, Dir: "./state/journal"},
		Notify:  notify.Config{Exchange: "carpool.events"},
		Wallet:  WalletConfig{Preload: true},
		Tokens:  TokenConfig{SignupGrant: 500, DistributeAmount: 1000},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load that exits the process on error.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		logging.Component("config").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Validate checks required settings.
func (c Config) Validate() error {
	var errs []error
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("ledger.rpc_url is required"))
	}
	if c.Ledger.ArtifactsDir == "" {
		errs = append(errs, errors.New("ledger.artifacts_dir is required"))
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("ledger.confirm_timeout must be positive"))
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		errs = append(errs, errors.New("journal.dir is required when the journal is enabled"))
	}
	if c.Tokens.SignupGrant < 0 || c.Tokens.DistributeAmount < 0 {
		errs = append(errs, errors.New("token amounts must not be negative"))
	}
	for name := range c.Ledger.Tables {
		if _, ok := store.DefaultTables().ByName(name); !ok {
			errs = append(errs, fmt.Errorf("ledger.tables: unknown table %q", name))
		}
	}
	return errors.Join(errs...)
}

// Tables returns the default table bindings with configured overrides.
func (c Config) Tables() store.Tables {
	tables := store.DefaultTables()
	for _, t := range []*store.Table{&tables.Accounts, &tables.Rides, &tables.Claims, &tables.Ratings} {
		o, ok := c.Ledger.Tables[t.Name]
		if !ok {
			continue
		}
		if o.Getter != "" {
			t.Getter = o.Getter
		}
		if o.Setter != "" {
			t.Setter = o.Setter
		}
	}
	return tables
}

func applyEnv(cfg *Config) error {
	cfg.Ledger.RPCURL = getenvDefault("LEDGER_RPC_URL", cfg.Ledger.RPCURL)
	cfg.Ledger.NetworkID = getenvDefault("LEDGER_NETWORK_ID", cfg.Ledger.NetworkID)
	cfg.Ledger.ArtifactsDir = getenvDefault("LEDGER_ARTIFACTS_DIR", cfg.Ledger.ArtifactsDir)
	cfg.Ledger.SignerKey = getenvDefault("LEDGER_SIGNER_KEY", cfg.Ledger.SignerKey)

	cfg.HTTP.Address = getenvDefault("HTTP_ADDRESS", cfg.HTTP.Address)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getenvDefault("LOG_OUTPUT", cfg.Logging.Output)

	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	cfg.Archive.Backend = getenvDefault("ARCHIVE_BACKEND", cfg.Archive.Backend)
	cfg.Archive.LocalDir = getenvDefault("ARCHIVE_LOCAL_DIR", cfg.Archive.LocalDir)
	cfg.Archive.Bucket = getenvDefault("ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.Endpoint = getenvDefault("ARCHIVE_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.Region = getenvDefault("ARCHIVE_REGION", cfg.Archive.Region)
	cfg.Archive.Prefix = getenvDefault("ARCHIVE_PREFIX", cfg.Archive.Prefix)

	cfg.Audit.Endpoint = getenvDefault("AUDIT_ENDPOINT", cfg.Audit.Endpoint)
	cfg.Audit.BackupDir = getenvDefault("AUDIT_BACKUP_DIR", cfg.Audit.BackupDir)

	cfg.Catalog.DSN = getenvDefault("CATALOG_DSN", cfg.Catalog.DSN)

	cfg.Journal.Dir = getenvDefault("JOURNAL_DIR", cfg.Journal.Dir)

	cfg.Notify.URL = getenvDefault("AMQP_URL", cfg.Notify.URL)
	cfg.Notify.Exchange = getenvDefault("AMQP_EXCHANGE", cfg.Notify.Exchange)

	var err error
	if cfg.Ledger.ConfirmTimeout, err = durationEnv("LEDGER_CONFIRM_TIMEOUT", cfg.Ledger.ConfirmTimeout); err != nil {
		return err
	}
	for key, dst := range map[string]*bool{
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
		"AUDIT_ENABLED":   &cfg.Audit.Enabled,
		"JOURNAL_ENABLED": &cfg.Journal.Enabled,
		"WALLET_PRELOAD":  &cfg.Wallet.Preload,
	} {
		if *dst, err = boolEnv(key, *dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*int64{
		"SIGNUP_GRANT":      &cfg.Tokens.SignupGrant,
		"DISTRIBUTE_AMOUNT": &cfg.Tokens.DistributeAmount,
	} {
		if *dst, err = intEnv(key, *dst); err != nil {
			return err
		}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func intEnv(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
