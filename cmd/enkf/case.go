package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/enkf/pkg/localconfig"
	"github.com/spf13/cobra"
)

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Manage cases",
}

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases in the ensemble path",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		cases, err := s.main.Registry.Cases()
		if err != nil {
			return err
		}
		current := s.main.Registry.Case()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CASE\tCURRENT\tMOUNT POINT")
		for _, c := range cases {
			mark := ""
			if c == current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c, mark, s.main.Registry.MountPoint(c))
		}
		return w.Flush()
	},
}

var caseSelectCmd = &cobra.Command{
	Use:   "select CASE",
	Short: "Make CASE the current case, creating it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.main.SelectCase(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Current case: %s\n", args[0])
		return nil
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Inspect the local analysis configuration",
}

var localCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the local analysis configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		names := s.main.Local.MinistepNames()
		fmt.Printf("✓ Local configuration valid: %d ministeps\n", len(names))
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

var localDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the local analysis configuration as commands",
	Long: `Print the effective local analysis configuration in the command
language. With --all-active the ALL_ACTIVE default is printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		allActive, _ := cmd.Flags().GetBool("all-active")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		m := s.main
		if allActive {
			return localconfig.WriteAllActive(os.Stdout, m.Vars, m.Obs.Keys(), localconfig.AllActiveOptions{
				SingleNodeUpdate: m.Config.Analysis.SingleNodeUpdate,
				UpdateResults:    m.Config.Analysis.UpdateResults,
			})
		}
		return m.Local.Write(os.Stdout)
	},
}

func init() {
	caseCmd.AddCommand(caseListCmd)
	caseCmd.AddCommand(caseSelectCmd)

	localCmd.AddCommand(localCheckCmd)
	localCmd.AddCommand(localDumpCmd)
	localDumpCmd.Flags().Bool("all-active", false, "Print the ALL_ACTIVE default configuration")
}
