package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Inspect and control replication cluster state",
	}

	cmd.AddCommand(clusterStatusCmd())
	cmd.AddCommand(clusterStepDownCmd())

	return cmd
}

func clusterStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this node's replication role and term state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := client.ClusterStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("cluster status: %w", err)
			}

			out, err := formatClusterStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format cluster status: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func clusterStepDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step-down",
		Short: "Ask this node to relinquish leadership, if it holds it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := client.StepDown(cmd.Context())
			if err != nil {
				return fmt.Errorf("step down: %w", err)
			}

			if result.SteppedDown {
				fmt.Println("stepped down")
			} else {
				fmt.Println("not leader, nothing to do")
			}
			return nil
		},
	}
}
