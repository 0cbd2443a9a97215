package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tidelock/recordseal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the active mode and per-kind record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		mode, err := recordseal.ResolveMode(cfg.sealConfig())
		if err != nil {
			return err
		}

		rs, _, closer, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx := cmd.Context()

		fmt.Printf("mode:      %s\n", colorMode(mode))
		fmt.Printf("namespace: %s\n", cfg.Namespace)

		return printKindCounts(ctx, os.Stdout, rs)
	},
}

// printKindCounts reports record counts and generation tallies per kind.
// Reserved kinds (leading underscore: the probe canary, the sql store's salt
// row) are bookkeeping, not records, and are excluded.
func printKindCounts(ctx context.Context, w io.Writer, rs recordseal.RecordStore) error {
	kinds, err := rs.Kinds(ctx)
	if err != nil {
		return err
	}

	for _, kind := range kinds {
		if strings.HasPrefix(kind, "_") {
			continue
		}

		var count int

		shapes := make(map[recordseal.StoredShape]int)

		err := rs.ForEach(ctx, kind, func(_ string, value []byte) error {
			count++
			shapes[recordseal.ClassifyValue(value)]++

			return nil
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "  %-20s %d%s\n", kind, count, legacySummary(shapes))
	}

	return nil
}

// legacySummary renders the non-current generation tallies for one kind, or
// an empty string when every record is current.
func legacySummary(shapes map[recordseal.StoredShape]int) string {
	var out string

	for _, shape := range []recordseal.StoredShape{
		recordseal.ShapePlainDoc,
		recordseal.ShapeLegacySealed,
		recordseal.ShapeUnknown,
	} {
		if n := shapes[shape]; n > 0 {
			out += fmt.Sprintf(" %s", color.YellowString("(%d %s)", n, string(shape)))
		}
	}

	return out
}

func colorMode(mode recordseal.Mode) string {
	switch mode {
	case recordseal.ModePlain:
		return color.RedString(string(mode))
	case recordseal.ModeDevEnc:
		return color.YellowString(string(mode))
	default:
		return color.GreenString(string(mode))
	}
}
