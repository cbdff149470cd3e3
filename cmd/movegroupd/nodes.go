package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes PLAN",
	Short: "List the nodes a move plan drives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPlan(args[0])
		if err != nil {
			return err
		}
		groups, err := p.MoveGroups()
		if err != nil {
			return err
		}
		for _, node := range groups.Nodes() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t0x%02X\n", node, uint8(node))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nodesCmd)
}
