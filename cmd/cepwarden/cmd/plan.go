package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/cepwarden/internal/pattern"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the tree plan for a pattern",
	Long: `Prints the plan a pattern evaluates with (its own plan section, or the
declared-order left-deep plan) in plan file format. With --tree the built
evaluation tree is printed instead, including each node's storage choice.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().String("pattern", "", "pattern file (YAML)")
	planCmd.Flags().String("plan", "", "tree plan file (YAML), overrides the pattern's plan")
	planCmd.Flags().Bool("tree", false, "print the built evaluation tree")
	_ = planCmd.MarkFlagRequired("pattern")
}

func runPlan(cmd *cobra.Command, args []string) error {
	patternPath, _ := cmd.Flags().GetString("pattern")
	planPath, _ := cmd.Flags().GetString("plan")
	showTree, _ := cmd.Flags().GetBool("tree")

	if showTree {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		t, err := buildTree(cfg, patternPath, planPath)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), t.Describe())
		return nil
	}

	_, plan, err := loadPattern(patternPath, planPath)
	if err != nil {
		return err
	}
	out, err := pattern.MarshalPlan(plan)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
