package main

import (
	"fmt"

	"github.com/Opentrons/opentrons-sub010/internal/plan"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate PLAN",
	Short: "Check a move plan against the schema and the node table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPlan(args[0])
		if err != nil {
			return err
		}
		rep := validatePlan(p)
		if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
		if !rep.Valid {
			return fmt.Errorf("plan %s is invalid", args[0])
		}
		return nil
	},
}

func validatePlan(p *plan.Plan) plan.Report {
	return plan.Validate(p)
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
