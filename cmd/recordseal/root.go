package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"syscall"

	// Register the MySQL driver for the sql store.
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tidelock/recordseal"
	"github.com/tidelock/recordseal/internal"
	"github.com/tidelock/recordseal/pkg/crypto/aead"
	"github.com/tidelock/recordseal/pkg/log"
	"github.com/tidelock/recordseal/pkg/storage"
)

var (
	configPath string
	verbose    bool

	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "recordseal",
	Short: "Manage the encrypted record store",
	Long: "recordseal inspects and migrates a record store whose values are\n" +
		"sealed into versioned encrypted envelopes.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.WarnLevel)

		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}

		// logrus satisfies the library's logger interface directly.
		log.SetLogger(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
}

// openStore opens the configured record store. The returned closer must be
// called when done.
func openStore(cfg *fileConfig) (recordseal.RecordStore, recordseal.SaltStore, io.Closer, error) {
	switch cfg.Store {
	case "badger", "":
		bs, err := storage.OpenBadger(cfg.DataDir, cfg.Namespace)
		if err != nil {
			return nil, nil, nil, err
		}

		return bs, bs, bs, nil
	case "sql":
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "opening sql store")
		}

		ss := storage.NewSQLStore(db, cfg.Namespace)

		return ss, ss, db, nil
	default:
		return nil, nil, nil, errors.Errorf("unknown store type %q", cfg.Store)
	}
}

// openSession resolves the mode and opens a session, prompting for the
// passphrase when prod-enc requires one.
func openSession(ctx context.Context, cfg *fileConfig, salts recordseal.SaltStore) (*recordseal.Session, error) {
	sealCfg := cfg.sealConfig()

	mode, err := recordseal.ResolveMode(sealCfg)
	if err != nil {
		return nil, err
	}

	var passphrase []byte

	if mode == recordseal.ModeProdEnc {
		passphrase, err = readPassphrase()
		if err != nil {
			return nil, err
		}

		defer internal.MemClr(passphrase)
	}

	return recordseal.Open(ctx, sealCfg, passphrase, salts)
}

func newCodec(session *recordseal.Session) *recordseal.Codec {
	return recordseal.NewCodec(session, aead.NewAES256GCM())
}

// readPassphrase reads the passphrase without echo, or from the environment
// for non-interactive runs.
func readPassphrase() ([]byte, error) {
	if v := os.Getenv("RECORDSEAL_PASSPHRASE"); v != "" {
		return []byte(v), nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")

	passphrase, err := term.ReadPassword(int(syscall.Stdin))

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, errors.Wrap(err, "reading passphrase")
	}

	return passphrase, nil
}
