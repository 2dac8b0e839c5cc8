package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/config"
	"github.com/nspcc-dev/disburser/disburser"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
)

// Dump file format:
//
//	'<label>-state.json': owner, oracle, version, the last oracle fee and
//	                      the number of pending refunds
//	'<label>-quotas.csv': 'account,quota' rows sorted by account
//
// The daemon must be stopped while its storage is dumped.
func main() {
	configPath := flag.String("config", "", "Path to the disburser configuration file")
	label := flag.String("label", "", "Label of the dump (e.g. 'testnet')")
	rootDir := flag.String("out", "testdata", "Output directory")

	flag.Parse()

	switch {
	case *configPath == "":
		log.Fatal("missing configuration file")
	case *label == "":
		log.Fatal("missing dump label")
	}

	err := os.MkdirAll(*rootDir, 0700)
	if err != nil {
		log.Fatal(fmt.Errorf("create root dir: %w", err))
	}

	err = _dump(*configPath, *rootDir, *label)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("disburser state is successfully dumped to '%s/'\n", *rootDir)
}

type dumpState struct {
	Owner          string `json:"owner"`
	OracleService  string `json:"oracle_service"`
	OracleProvider string `json:"oracle_provider"`
	Version        string `json:"version"`
	LastFee        string `json:"last_fee"`
	Accounts       int    `json:"accounts"`
	PendingRefunds int    `json:"pending_refunds"`
}

func _dump(configPath, rootDir, label string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	defer st.Close()

	s, err := disburser.ReadState(st)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	err = writeState(filepath.Join(rootDir, label+"-state.json"), dumpState{
		Owner:          s.Owner,
		OracleService:  s.Oracle.ServiceID,
		OracleProvider: s.Oracle.ProviderID,
		Version:        common.VersionString(s.Version),
		LastFee:        common.FormatFixed(s.LastFee, 8),
		Accounts:       len(s.Quotas),
		PendingRefunds: len(s.PendingRefunds),
	})
	if err != nil {
		return err
	}

	return writeQuotas(filepath.Join(rootDir, label+"-quotas.csv"), s)
}

func writeState(path string, s dumpState) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")

	err = enc.Encode(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	return nil
}

func writeQuotas(path string, s disburser.State) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create quotas file: %w", err)
	}

	defer f.Close()

	accounts := make([]string, 0, len(s.Quotas))
	for a := range s.Quotas {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	w := csv.NewWriter(f)
	for _, a := range accounts {
		err = w.Write([]string{a, common.FormatAmount(s.Quotas[a])})
		if err != nil {
			return fmt.Errorf("write quota of %s: %w", a, err)
		}
	}

	w.Flush()

	return w.Error()
}
