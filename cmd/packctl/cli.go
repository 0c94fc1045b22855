// Command packctl manages offline model packages from the terminal:
// list manifest tiers, fetch a tier's assets to disk and verify local
// copies against their pinned digests.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"offlined/internal/common/fsutil"
	"offlined/internal/download"
	"offlined/internal/registry"
)

type rootOptions struct {
	manifest string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "packctl",
		Short:         "Manage offline model packages",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.manifest, "manifest", envStr("OFFLINED_MANIFEST", "packages.yaml"), "package manifest file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", envStr("OFFLINED_LOG_LEVEL", "warn"), "log level: trace|debug|info|warn|error")

	cmd.AddCommand(newTiersCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	return cmd
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *rootOptions) logger() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func (o *rootOptions) registry() (*registry.Registry, error) {
	return registry.Load(o.manifest)
}

func newTiersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List package tiers from the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tFILES\tSIZE\tDESCRIPTION")
			for _, tier := range reg.Tiers() {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", tier.Tier, tier.Files, humanBytes(tier.SizeBytes), tier.Description)
			}
			return tw.Flush()
		},
	}
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var outDir string
	var retries int
	cmd := &cobra.Command{
		Use:   "fetch <tier>",
		Short: "Download a tier's assets to a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			manifest, err := reg.Tier(args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			log := opts.logger()
			dl := download.New(download.Options{Logger: &log, Retries: retries})

			tasks := make([]download.Task, len(manifest.Files))
			for i, f := range manifest.Files {
				tasks[i] = download.Task{URL: f.URL, Name: f.Name, SizeBytes: f.SizeBytes, SHA256: f.SHA256}
			}
			start := time.Now()
			payloads, err := dl.FetchAll(cmd.Context(), tasks, download.WithObserver(func(p download.Progress) {
				if p.SizeKnown {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%6.1f%% (%d/%d bytes)", p.Percent, p.Received, p.Expected)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%d bytes", p.Received)
				}
			}))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			for i, f := range manifest.Files {
				dest := filepath.Join(outDir, f.Name)
				if err := os.WriteFile(dest, payloads[i], 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", dest, humanBytes(int64(len(payloads[i]))))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched tier %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "destination directory")
	cmd.Flags().IntVar(&retries, "retries", 0, "download attempts per file (0=default)")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "verify <tier>",
		Short: "Verify local copies of a tier against their pinned digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			manifest, err := reg.Tier(args[0])
			if err != nil {
				return err
			}
			failed := 0
			for _, f := range manifest.Files {
				path := filepath.Join(dir, f.Name)
				if !fsutil.PathExists(path) {
					fmt.Fprintf(cmd.OutOrStdout(), "MISSING  %s\n", path)
					failed++
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				if download.VerifyChecksum(data, f.SHA256) {
					fmt.Fprintf(cmd.OutOrStdout(), "OK       %s\n", path)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "MISMATCH %s (got %s)\n", path, download.Checksum(data))
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed verification", failed, len(manifest.Files))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory holding the downloaded files")
	return cmd
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
