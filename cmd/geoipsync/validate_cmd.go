package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/geoipdb/geoipsync/internal/config"
	"github.com/geoipdb/geoipsync/internal/validate"
	"github.com/spf13/cobra"
)

// newValidateCmd re-checks already installed database files without touching
// the network. An invalid MMDB file fails the command; a BIN file that cannot
// be verified only warns, matching the sync-time behavior.
func newValidateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the database files already present in the target directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateDir(cmd.OutOrStdout(), cfg.TargetDir)
		},
	}
}

func validateDir(out io.Writer, dir string) error {
	invalid := 0
	checked := 0

	for _, spec := range catalog.Specs {
		path := filepath.Join(dir, spec.Name)

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return err
		}

		checked++

		if info.Size() < spec.MinSizeBytes {
			invalid++
			fmt.Fprintf(out, "INVALID  %s: file too small (%s)\n", spec.Name, humanize.Bytes(uint64(info.Size())))

			continue
		}

		result, err := validate.File(path, spec.Format)
		if err != nil {
			return fmt.Errorf("failed to validate %s: %w", spec.Name, err)
		}

		switch {
		case !result.Valid:
			invalid++
			fmt.Fprintf(out, "INVALID  %s: %s\n", spec.Name, result.Reason)
		case result.Warning:
			fmt.Fprintf(out, "WARNING  %s: %s\n", spec.Name, result.Reason)
		default:
			fmt.Fprintf(out, "OK       %s (%s)\n", spec.Name, humanize.Bytes(uint64(info.Size())))
		}
	}

	if checked == 0 {
		fmt.Fprintf(out, "no known database files found in %s\n", dir)

		return nil
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d database files failed validation", invalid, checked)
	}

	return nil
}
