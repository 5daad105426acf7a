package assets

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewCommand creates a Cobra command tree for asset management.
// The returned command should be added to a parent CLI's root command.
//
// Commands provided:
//   - assets prepare <id> <url> [--force] [--records]
//   - assets list
//   - assets info <id>
//   - assets path <id>
//   - assets remove <id>
//   - assets clear
//
// Global flags: --json, --quiet
func NewCommand(cfg Config, opts ...ManagerOption) *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
	)

	// Manager will be created in PersistentPreRunE
	var mgr Manager

	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage splat assets",
		Long:  "Download, cache, and transcode splat assets for the viewer.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip manager creation for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			mgr, err = NewManager(cfg, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize manager: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")

	cmd.AddCommand(prepareCmd(&mgr, &quiet))
	cmd.AddCommand(listCmd(&mgr, &jsonOutput))
	cmd.AddCommand(infoCmd(&mgr, &jsonOutput))
	cmd.AddCommand(pathCmd(&mgr))
	cmd.AddCommand(removeCmd(&mgr, &quiet))
	cmd.AddCommand(clearCmd(&mgr, &quiet))

	return cmd
}

func prepareCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var (
		force   bool
		records bool
	)

	cmd := &cobra.Command{
		Use:   "prepare <id> <url>",
		Short: "Download and validate an asset",
		Long:  "Download an asset into the cache, resolving pointer indirection and validating the container. With --records, also transcode it and report the record count.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, sourceURL := args[0], args[1]

			var opts []PrepareOption
			if force {
				opts = append(opts, WithForce())
			}
			if records {
				opts = append(opts, WithRecords())
			}

			if !*quiet {
				start := time.Now()
				rendering := false
				opts = append(opts, WithProgress(func(p PrepareProgress) {
					switch p.Stage {
					case StageDownloading:
						if !rendering {
							fmt.Fprint(cmd.OutOrStdout(), "\x1b[?25l")
							rendering = true
						}
						renderProgress(cmd.OutOrStdout(), p.Fraction, start)
					case StageReady, StageFailed:
						if rendering {
							fmt.Fprint(cmd.OutOrStdout(), "\x1b[?25h\n")
							rendering = false
						}
					}
				}))
			}

			result, err := (*mgr).Prepare(ctx, id, sourceURL, opts...)
			if err != nil {
				return err
			}

			if *quiet {
				fmt.Fprintln(cmd.OutOrStdout(), result.Path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Prepared %s (%d vertices)\n", id, result.VertexCount)
			fmt.Fprintf(cmd.OutOrStdout(), "Path: %s\n", result.Path)
			if result.Records != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Records: %d\n", len(result.Records))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Force re-download even if cached")
	cmd.Flags().BoolVar(&records, "records", false, "Transcode into point records after download")
	return cmd
}

func listCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := (*mgr).List()
			return outputEntries(cmd.OutOrStdout(), entries, (*mgr).TotalCacheBytes(), *jsonOutput)
		},
	}
}

func infoCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show cache state for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := (*mgr).Info(args[0])
			if *jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			if !info.Exists {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not cached\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identifier:   %s\n", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Path:         %s\n", info.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "Size:         %s\n", formatSize(info.Size))
			fmt.Fprintf(cmd.OutOrStdout(), "Modified:     %s\n", info.LastModified.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func pathCmd(mgr *Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "path <id>",
		Short: "Print the local path of a cached asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := (*mgr).Info(args[0])
			if !info.Exists {
				return fmt.Errorf("%w: %s", ErrNotCached, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.Path)
			return nil
		},
	}
}

func removeCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a cached asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Remove %s? [y/N]: ", args[0])
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := (*mgr).Delete(args[0]); err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func clearCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the whole asset cache",
		Long:  "Cancel in-flight downloads and remove every cached asset file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "Clear the asset cache? [y/N]: ")
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := (*mgr).ClearAll(); err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "Asset cache cleared.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

// confirmPrompt reads from stdin and returns true only if the user types
// 'y' or 'yes'. Returns false for empty input or any other response.
func confirmPrompt(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		response := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return response == "y" || response == "yes"
	}
	return false
}

// Output helpers

func outputEntries(w io.Writer, entries []CacheEntry, total int64, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No assets cached")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tSIZE\tMODIFIED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			e.Identifier,
			formatSize(e.Size),
			e.LastModified.Format("2006-01-02 15:04"),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Total: %s\n", formatSize(total))
	return nil
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// renderProgress renders the pipeline progress bar to the writer.
// Format: Downloading [============>                 ] 45% (elapsed: 30s)
func renderProgress(w io.Writer, fraction float64, startTime time.Time) {
	pct := fraction * 100

	const barWidth = 30
	filled := int(fraction * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}

	var bar string
	if filled >= barWidth {
		bar = strings.Repeat("=", barWidth)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled) + ">" + strings.Repeat(" ", barWidth-filled-1)
	} else {
		bar = ">" + strings.Repeat(" ", barWidth-1)
	}

	fmt.Fprintf(w, "\r\x1b[KDownloading [%s] %.0f%% (elapsed: %s)",
		bar, pct, formatDuration(time.Since(startTime)))
}

// formatDuration formats a duration as human-readable text (e.g., "5s",
// "2m 30s", "1h 5m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}
