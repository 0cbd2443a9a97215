package main

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tidelock/recordseal"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bulk-rewrite stored records across mode or format boundaries",
}

var reencryptCmd = &cobra.Command{
	Use:   "reencrypt",
	Short: "Re-encrypt records not yet sealed under the current mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		rs, salts, closer, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx := cmd.Context()

		session, err := openSession(ctx, cfg, salts)
		if err != nil {
			return err
		}
		defer session.Close()

		sp := startSpinner("Re-encrypting records...")

		migrator := recordseal.NewMigrator(rs, newCodec(session),
			recordseal.WithProgress(func(kind string, processed int) {
				sp.Suffix = fmt.Sprintf(" %s: %d", kind, processed)
			}),
		)

		counts, err := migrator.ReencryptAll(ctx)

		sp.Stop()

		if err != nil {
			return err
		}

		printCounts(counts)

		return nil
	},
}

var repairMetaCmd = &cobra.Command{
	Use:   "repair-meta",
	Short: "Rewrite records predating the meta/payload split into envelope form",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		rs, salts, closer, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx := cmd.Context()

		session, err := openSession(ctx, cfg, salts)
		if err != nil {
			return err
		}
		defer session.Close()

		sp := startSpinner("Repairing legacy records...")

		migrator := recordseal.NewMigrator(rs, newCodec(session))

		repaired, err := migrator.RepairSplitMeta(ctx)

		sp.Stop()

		if err != nil {
			return err
		}

		fmt.Printf("%s repaired %d legacy records\n", color.GreenString("✓"), repaired)

		return nil
	},
}

func init() {
	migrateCmd.AddCommand(reencryptCmd)
	migrateCmd.AddCommand(repairMetaCmd)
}

func startSpinner(message string) *spinner.Spinner {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " " + message
	sp.Start()

	return sp
}

func printCounts(counts recordseal.MigrationCounts) {
	if counts.TotalChanged() == 0 && counts.TotalSkipped() == 0 {
		fmt.Printf("%s nothing to do\n", color.GreenString("✓"))

		return
	}

	for kind, n := range counts.Changed {
		fmt.Printf("%s %-20s rewrote %d\n", color.GreenString("✓"), kind, n)
	}

	for kind, n := range counts.Skipped {
		fmt.Printf("%s %-20s skipped %d (undecodable; see --verbose)\n", color.YellowString("!"), kind, n)
	}
}
