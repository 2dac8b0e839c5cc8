package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nspcc-dev/disburser/api"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/config"
	"github.com/nspcc-dev/disburser/disburser"
	"github.com/nspcc-dev/disburser/metrics"
	"github.com/nspcc-dev/disburser/rpc/ledger"
	"github.com/nspcc-dev/disburser/rpc/pricefeed"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")

	flag.Parse()

	if *configPath == "" {
		log.Fatal("missing configuration file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := newLogger(cfg)
	if err != nil {
		log.Fatal(fmt.Errorf("init logger: %w", err))
	}

	defer func() { _ = l.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal("disburser failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(lvl)
	c.Encoding = "console"

	return c.Build()
}

func openAccount(c config.WalletConfig) (*wallet.Account, error) {
	w, err := wallet.NewWalletFromFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}

	defer w.Close()

	var acc *wallet.Account
	if c.Address == "" {
		if len(w.Accounts) == 0 {
			return nil, errors.New("wallet has no accounts")
		}
		acc = w.Accounts[0]
	} else {
		h, err := common.ScriptHash(c.Address)
		if err != nil {
			return nil, fmt.Errorf("wallet account: %w", err)
		}
		acc = w.GetAccount(h)
		if acc == nil {
			return nil, fmt.Errorf("account %s is missing in the wallet", c.Address)
		}
	}

	if err := acc.Decrypt(c.Password, w.Scrypt); err != nil {
		return nil, fmt.Errorf("decrypt account %s: %w", acc.Address, err)
	}

	return acc, nil
}

func run(ctx context.Context, cfg *config.Config, l *zap.Logger) error {
	acc, err := openAccount(cfg.RPC.Wallet)
	if err != nil {
		return err
	}

	cli, err := rpcclient.New(ctx, cfg.RPC.Endpoint, rpcclient.Options{
		DialTimeout:    cfg.RPC.DialTimeout,
		RequestTimeout: cfg.RPC.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("RPC client: %w", err)
	}

	defer cli.Close()

	if err := cli.Init(); err != nil {
		return fmt.Errorf("RPC client init: %w", err)
	}

	act, err := actor.NewSimple(cli, acc)
	if err != nil {
		return fmt.Errorf("init actor: %w", err)
	}

	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	defer st.Close()

	self := cfg.Service.Account
	if self == "" {
		self = acc.Address
	}

	s, err := disburser.New(disburser.Prm{
		Self:      self,
		Store:     st,
		Oracle:    pricefeed.NewOracle(invoker.New(cli, nil)),
		Native:    ledger.NewNative(act, l),
		Tokens:    ledger.NewTokens(act, l),
		Registrar: ledger.NewRegistrar(act, l),
		Fee:       cfg.FeeParams(),
		LegLimit:  cfg.Service.LegLimit,
		Logger:    l,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	defer s.Wait()

	if err := initialize(s, cfg.Oracle, self, l); err != nil {
		return err
	}

	retryCtx, stopRetry := context.WithCancel(ctx)
	retryDone := make(chan struct{})
	defer func() {
		stopRetry()
		<-retryDone
	}()

	go func() {
		defer close(retryDone)
		retryRefunds(retryCtx, s, cfg.Service.RefundRetryInterval, l)
	}()

	mux := http.NewServeMux()
	mux.Handle("/v1/", api.NewHandler(s, l))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.API.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("serving API", zap.String("address", cfg.API.Address), zap.String("account", self))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}

	return nil
}

// retryRefunds periodically resends refunds whose transfers failed until ctx
// is done.
func retryRefunds(ctx context.Context, s *disburser.Service, interval time.Duration, l *zap.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		n, err := s.RetryRefunds(ctx)
		if err != nil && ctx.Err() == nil {
			l.Error("refund retry", zap.Error(err))
		} else if n > 0 {
			l.Info("pending refunds delivered", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// initialize makes the service account the owner of empty state if oracle is
// configured.
func initialize(s *disburser.Service, cfg config.OracleConfig, self string, l *zap.Logger) error {
	if cfg.ServiceID == "" {
		return nil
	}

	_, err := s.Owner()
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrNotInitialized) {
		return fmt.Errorf("read owner: %w", err)
	}

	err = s.Initialize(disburser.Call{Sender: self, Signer: self}, cfg.ServiceID, cfg.ProviderID)
	if err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	l.Info("empty state initialized from configuration", zap.String("owner", self))

	return nil
}
