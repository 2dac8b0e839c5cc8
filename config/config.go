// Package config contains disbursement daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/fee"
	"github.com/nspcc-dev/neo-go/pkg/core/storage/dbconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultAPIAddress     = ":8080"
	DefaultDialTimeout    = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultLogLevel       = "info"
	DefaultRefundRetry    = time.Minute
)

// Config is the top-level daemon configuration.
type Config struct {
	Service ServiceConfig            `yaml:"Service"`
	Oracle  OracleConfig             `yaml:"Oracle"`
	Fee     FeeConfig                `yaml:"Fee"`
	Storage dbconfig.DBConfiguration `yaml:"Storage"`
	RPC     RPCConfig                `yaml:"RPC"`
	API     APIConfig                `yaml:"API"`
	Logger  LoggerConfig             `yaml:"Logger"`
}

// ServiceConfig describes the service identity.
type ServiceConfig struct {
	// Account is the service address. It defaults to the wallet account.
	Account string `yaml:"Account"`
	// LegLimit bounds parallel legs of a single batch, 0 is unlimited.
	LegLimit int `yaml:"LegLimit"`
	// RefundRetryInterval is the period of failed refund retries.
	RefundRetryInterval time.Duration `yaml:"RefundRetryInterval"`
}

// OracleConfig is used to initialize empty service state on startup.
type OracleConfig struct {
	// ServiceID is the price feed contract address.
	ServiceID  string `yaml:"ServiceID"`
	ProviderID string `yaml:"ProviderID"`
}

// FeeConfig overrides fee calculation parameters, zero fields keep defaults.
type FeeConfig struct {
	Pair             string `yaml:"Pair"`
	OneUnit          uint64 `yaml:"OneUnit"`
	USDPerAddress    uint64 `yaml:"USDPerAddress"`
	DecimalOffset    uint32 `yaml:"DecimalOffset"`
	ToleranceDivisor uint64 `yaml:"ToleranceDivisor"`
}

// RPCConfig describes connection to the Neo network.
type RPCConfig struct {
	Endpoint       string        `yaml:"Endpoint"`
	DialTimeout    time.Duration `yaml:"DialTimeout"`
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
	Wallet         WalletConfig  `yaml:"Wallet"`
}

// WalletConfig points to the account signing service transactions.
type WalletConfig struct {
	Path     string `yaml:"Path"`
	Address  string `yaml:"Address"`
	Password string `yaml:"Password"`
}

// APIConfig describes HTTP API server.
type APIConfig struct {
	Address string `yaml:"Address"`
}

// LoggerConfig describes logger.
type LoggerConfig struct {
	Level string `yaml:"Level"`
}

// Load reads configuration from the YAML file, applies defaults and validates
// the result. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.RefundRetryInterval == 0 {
		c.Service.RefundRetryInterval = DefaultRefundRetry
	}
	if c.RPC.DialTimeout == 0 {
		c.RPC.DialTimeout = DefaultDialTimeout
	}
	if c.RPC.RequestTimeout == 0 {
		c.RPC.RequestTimeout = DefaultRequestTimeout
	}
	if c.API.Address == "" {
		c.API.Address = DefaultAPIAddress
	}
	if c.Logger.Level == "" {
		c.Logger.Level = DefaultLogLevel
	}
}

// Validate checks configuration consistency. Storage type has no default, the
// in-memory one loses quota and pending refunds on restart and must be
// requested explicitly.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "":
		return errors.New("missing storage type")
	case dbconfig.InMemoryDB:
	case dbconfig.BoltDB:
		if c.Storage.BoltDBOptions.FilePath == "" {
			return errors.New("missing BoltDB file path")
		}
	case dbconfig.LevelDB:
		if c.Storage.LevelDBOptions.DataDirectoryPath == "" {
			return errors.New("missing LevelDB directory")
		}
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}

	if c.RPC.Endpoint == "" {
		return errors.New("missing RPC endpoint")
	}
	if c.RPC.Wallet.Path == "" {
		return errors.New("missing wallet path")
	}
	if (c.Oracle.ServiceID == "") != (c.Oracle.ProviderID == "") {
		return errors.New("oracle service and provider must be set together")
	}
	if c.Service.LegLimit < 0 {
		return fmt.Errorf("negative leg limit %d", c.Service.LegLimit)
	}
	if c.Service.RefundRetryInterval < 0 {
		return fmt.Errorf("negative refund retry interval %s", c.Service.RefundRetryInterval)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return c.FeeParams().Validate()
}

// LogLevel returns parsed logger level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Logger.Level)
	if err != nil {
		return lvl, fmt.Errorf("invalid log level: %w", err)
	}
	return lvl, nil
}

// FeeParams returns fee parameters with configured overrides.
func (c *Config) FeeParams() fee.Params {
	p := fee.DefaultParams()
	if c.Fee.Pair != "" {
		p.Pair = c.Fee.Pair
	}
	if c.Fee.OneUnit != 0 {
		p.OneUnit = uint256.NewInt(c.Fee.OneUnit)
	}
	if c.Fee.USDPerAddress != 0 {
		p.USDPerAddress = uint256.NewInt(c.Fee.USDPerAddress)
	}
	if c.Fee.DecimalOffset != 0 {
		p.DecimalOffset = c.Fee.DecimalOffset
	}
	if c.Fee.ToleranceDivisor != 0 {
		p.ToleranceDivisor = c.Fee.ToleranceDivisor
	}
	return p
}
