package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ContextCmd returns the context command group.
func ContextCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage app context files",
		Long: `Context files are documents the builder reads while planning and
implementing an app (style guides, data samples, API notes).`,
	}

	cmd.AddCommand(contextListCmd(opts))
	cmd.AddCommand(contextAddCmd(opts))
	cmd.AddCommand(contextRemoveCmd(opts))
	return cmd
}

func contextListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "ls <app-id>",
		Aliases: []string{"list"},
		Short:   "List context files for an app",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := opts.Client().ListContextFiles(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("listing context files: %w", err)
			}
			if len(files) == 0 {
				fmt.Printf("No context files for app %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, humanSize(f.Size), humanTime(f.Modified))
			}
			return w.Flush()
		},
	}
}

func contextAddCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <app-id> <file>...",
		Short: "Upload context files for an app",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.Client()
			appID := args[0]
			for _, path := range args[1:] {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("opening %s: %w", path, err)
				}
				err = client.UploadContextFile(cmd.Context(), appID, filepath.Base(path), f)
				f.Close()
				if err != nil {
					return fmt.Errorf("uploading %s: %w", path, err)
				}
				fmt.Printf("✓ %s uploaded\n", filepath.Base(path))
			}
			return nil
		},
	}
}

func contextRemoveCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <app-id> <name>",
		Aliases: []string{"remove"},
		Short:   "Delete a context file",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Client().DeleteContextFile(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[1], err)
			}
			fmt.Printf("✓ %s deleted\n", args[1])
			return nil
		},
	}
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
