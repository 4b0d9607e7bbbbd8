package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
)

// SubmitCmd returns the submit command.
func SubmitCmd(opts *Options) *cobra.Command {
	var (
		appID      string
		category   string
		mode       string
		hasAgent   bool
		research   string
		watch      bool
		resources  bool
		components bool
	)

	cmd := &cobra.Command{
		Use:   "submit <description>",
		Short: "Submit a new build and start execution",
		Long: `Submit a build request and kick off server-side execution.

The build progresses through the pipeline on the server; use
"buildctl status --watch" to follow it, or pass --watch here.

Examples:
  buildctl submit "a travel planning app with maps"
  buildctl submit --research deep --watch "an inventory dashboard"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := opts.Client()

			rec, err := client.CreateBuild(ctx, api.CreateBuildRequest{
				Description:         args[0],
				AppID:               appID,
				Category:            category,
				BuildMode:           mode,
				HasAgent:            hasAgent,
				HasResources:        resources,
				HasCustomComponents: components,
				ResearchMode:        research,
			})
			if err != nil {
				return fmt.Errorf("submit failed: %w", err)
			}

			if err := client.ExecuteBuild(ctx, rec.ID); err != nil {
				return fmt.Errorf("build %s created but execution failed to start: %w", rec.ID, err)
			}

			fmt.Printf("✓ Build %s submitted\n", rec.ID)
			if watch {
				return watchBuild(ctx, client, rec.ID)
			}
			fmt.Printf("  follow with: buildctl status --watch %s\n", rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&appID, "app", "", "target app id (edit an existing app)")
	cmd.Flags().StringVar(&category, "category", "", "app category hint")
	cmd.Flags().StringVar(&mode, "mode", "", "build mode")
	cmd.Flags().BoolVar(&hasAgent, "agent", false, "include an embedded agent")
	cmd.Flags().BoolVar(&resources, "resources", false, "include resource stores")
	cmd.Flags().BoolVar(&components, "custom-components", false, "include custom components")
	cmd.Flags().StringVar(&research, "research", "", "research mode (e.g. deep)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch progress until the build finishes")
	return cmd
}

// ListCmd returns the list command.
func ListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List builds known to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.Client().BuildHistory(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing builds: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No builds yet. Start one with: buildctl submit \"...\"")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAPP\tPHASE\tPROGRESS\tUPDATED\tDESCRIPTION")
			for _, rec := range records {
				desc := rec.Description
				if len(desc) > 48 {
					desc = desc[:45] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.AppID,
					phaseColor(rec.Phase).Sprint(rec.Phase),
					formatProgress(rec.Progress),
					humanTime(rec.UpdatedAt),
					desc,
				)
			}
			return w.Flush()
		},
	}
}

// StatusCmd returns the status command.
func StatusCmd(opts *Options) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status <build-id>",
		Short: "Show the pipeline state of one build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.Client()
			if watch {
				return watchBuild(cmd.Context(), client, args[0])
			}
			upd, err := client.BuildStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetching status: %w", err)
			}
			printStatus(args[0], upd)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the build finishes or needs review")
	return cmd
}

// CancelCmd returns the cancel command.
func CancelCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <build-id>",
		Short: "Cancel a running build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Client().CancelBuild(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}
			fmt.Printf("✓ Build %s cancelled\n", args[0])
			return nil
		},
	}
}

// ResumeCmd returns the resume command.
func ResumeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <build-id>",
		Short: "Resume a paused or failed build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd, err := opts.Client().ResumeBuild(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resume failed: %w", err)
			}
			fmt.Printf("✓ Build %s resumed\n", args[0])
			printStatus(args[0], upd)
			return nil
		},
	}
}

// InstallCmd returns the install command.
func InstallCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "install <build-id>",
		Short: "Install the generated app files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Client().InstallBuild(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("install failed: %w", err)
			}
			fmt.Printf("✓ Build %s installing; the dev server picks the files up\n", args[0])
			return nil
		},
	}
}

// DeleteCmd returns the delete command.
func DeleteCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <build-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a build from the backend",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Client().DeleteBuild(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Printf("✓ Build %s deleted\n", args[0])
			return nil
		},
	}
}

// EditCmd returns the edit command.
func EditCmd(opts *Options) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "edit <app-id> <description>",
		Short: "Request changes to an existing app",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.Client()
			upd, err := client.RequestEdit(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("edit request failed: %w", err)
			}
			if upd.ID == "" {
				return fmt.Errorf("backend did not return a build id")
			}
			fmt.Printf("✓ Edit build %s created for app %s\n", upd.ID, args[0])
			if watch {
				return watchBuild(cmd.Context(), client, upd.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch progress until the build finishes")
	return cmd
}

// watchBuild polls a build on the standard cadence and renders the step
// list on every change until it finishes or blocks on review.
func watchBuild(ctx context.Context, client *api.Client, id string) error {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	var lastPhase builder.Phase
	for {
		upd, err := client.BuildStatus(ctx, id)
		if err != nil {
			// Transient; the next tick retries.
			faint.Fprintf(os.Stderr, "poll failed: %v\n", err)
		} else {
			phase := lastPhase
			if upd.Phase != nil {
				phase = *upd.Phase
			}
			if phase != lastPhase {
				printStatus(id, upd)
				lastPhase = phase
			} else if upd.Progress != nil {
				fmt.Printf("  %s %s\n", phaseColor(phase).Sprint(phase), formatProgress(*upd.Progress))
			}

			if phase.Terminal() {
				if phase == builder.PhaseFailed {
					msg := "build failed"
					if upd.Error != nil && *upd.Error != "" {
						msg = *upd.Error
					}
					return fmt.Errorf("%s", msg)
				}
				fmt.Println(phaseDone.Sprint("✓ Build complete"))
				return nil
			}
			if phase.AwaitingInput() {
				fmt.Println(phaseWaiting.Sprint("Plan ready for review."))
				fmt.Printf("  export it with: buildctl plan export %s\n", id)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// printStatus renders the full pipeline with the current step highlighted.
func printStatus(id string, upd builder.BuildUpdate) {
	phase := builder.Phase("")
	if upd.Phase != nil {
		phase = *upd.Phase
	}

	fmt.Printf("Build %s\n", id)
	if phase == builder.PhaseFailed {
		msg := ""
		if upd.Error != nil {
			msg = *upd.Error
		}
		fmt.Printf("  %s %s\n", phaseFailed.Sprint("✗ failed"), msg)
		return
	}

	for i, p := range builder.Phases {
		switch builder.StepAt(i, phase) {
		case builder.StepComplete:
			fmt.Printf("  %s %s\n", phaseDone.Sprint("✓"), p)
		case builder.StepActive:
			line := phaseColor(p).Sprintf("▶ %s", p)
			if upd.Progress != nil {
				if pr := formatProgress(*upd.Progress); pr != "" {
					line += " " + pr
				}
			}
			fmt.Printf("  %s\n", line)
		default:
			faint.Printf("  · %s\n", p)
		}
	}
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}
