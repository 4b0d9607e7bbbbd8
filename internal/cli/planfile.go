package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liquidcrypto/liquidos-builder/internal/plan"
)

// PlanFile is the on-disk YAML form of a reviewable plan. Implementation
// stories keep their tag stripped here; approval re-tags them.
type PlanFile struct {
	BuildID        string      `yaml:"buildId"`
	Feature        []StoryFile `yaml:"feature"`
	Implementation []StoryFile `yaml:"implementation,omitempty"`
}

// StoryFile is one editable story.
type StoryFile struct {
	ID                 string   `yaml:"id,omitempty"`
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptanceCriteria,omitempty"`
}

// fileFromReview converts an in-memory review into its YAML form.
func fileFromReview(buildID string, r *plan.Review) PlanFile {
	f := PlanFile{BuildID: buildID}
	for _, s := range r.Feature {
		f.Feature = append(f.Feature, StoryFile(s))
	}
	for _, s := range r.Implementation {
		f.Implementation = append(f.Implementation, StoryFile(s))
	}
	return f
}

// reviewFromFile converts a YAML plan back into a review. Stories the user
// added without an id get the next free sequential id.
func reviewFromFile(f PlanFile) *plan.Review {
	r := &plan.Review{}
	for _, s := range f.Feature {
		r.Feature = append(r.Feature, plan.Story(s))
	}
	for _, s := range f.Implementation {
		r.Implementation = append(r.Implementation, plan.Story(s))
	}

	next := 1
	nextFree := func() string {
		for {
			id := fmt.Sprintf("US-%03d", next)
			next++
			if r.Find(id) == nil {
				return id
			}
		}
	}
	for _, group := range [][]plan.Story{r.Feature, r.Implementation} {
		for i := range group {
			if group[i].ID == "" {
				group[i].ID = nextFree()
			}
		}
	}
	return r
}

// PlanCmd returns the plan command group.
func PlanCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Export and approve build plans",
		Long: `Work with a plan that is awaiting review.

Export the plan to a YAML file, edit the stories in your editor, then
approve with the edited file:

  buildctl plan export b-42 -o plan.yaml
  $EDITOR plan.yaml
  buildctl plan approve b-42 -f plan.yaml`,
	}

	cmd.AddCommand(planExportCmd(opts))
	cmd.AddCommand(planApproveCmd(opts))
	return cmd
}

func planExportCmd(opts *Options) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <build-id>",
		Short: "Write the reviewable plan to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd, err := opts.Client().BuildStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetching plan: %w", err)
			}
			if upd.Plan == nil {
				return fmt.Errorf("build %s has no plan yet", args[0])
			}

			review := plan.NewReview(upd.Plan)
			data, err := yaml.Marshal(fileFromReview(args[0], review))
			if err != nil {
				return fmt.Errorf("encoding plan: %w", err)
			}

			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Printf("✓ Plan written to %s (%d feature, %d implementation stories)\n",
				out, len(review.Feature), len(review.Implementation))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func planApproveCmd(opts *Options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "approve <build-id>",
		Short: "Approve the plan, optionally with edited stories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.Client()

			if file == "" {
				// Approve as-is.
				if _, err := client.ApproveBuild(cmd.Context(), args[0], nil); err != nil {
					return fmt.Errorf("approve failed: %w", err)
				}
				fmt.Printf("✓ Build %s approved\n", args[0])
				return nil
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			var pf PlanFile
			if err := yaml.Unmarshal(data, &pf); err != nil {
				return fmt.Errorf("parsing %s: %w", file, err)
			}
			if pf.BuildID != "" && pf.BuildID != args[0] {
				return fmt.Errorf("plan file is for build %s, not %s", pf.BuildID, args[0])
			}

			review := reviewFromFile(pf)
			if _, err := client.ApproveBuild(cmd.Context(), args[0], review.Submission()); err != nil {
				return fmt.Errorf("approve failed: %w", err)
			}
			fmt.Printf("✓ Build %s approved with %d stories\n",
				args[0], len(review.Feature)+len(review.Implementation))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "edited plan YAML file")
	return cmd
}
