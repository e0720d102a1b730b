package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/enkf/pkg/types"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ensemble",
}

var runAssimilationCmd = &cobra.Command{
	Use:   "assimilation",
	Short: "Run the EnKF assimilation loop over the schedule",
	Long: `Run the forward model segment by segment and assimilate the
observations after every segment marked for update. The loop stops at the
first batch with a failed member.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetInt("start-step")
		members, _ := cmd.Flags().GetString("members")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		s.printEvents()

		active, err := parseMembers(members, s.main.Ensemble.Size())
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		if err := s.main.RunAssimilation(ctx, active, start); err != nil {
			return err
		}
		fmt.Println("✓ Assimilation complete")
		return nil
	},
}

var runSmootherCmd = &cobra.Command{
	Use:   "smoother TARGET_CASE",
	Short: "Run the ensemble smoother into TARGET_CASE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rerun, _ := cmd.Flags().GetBool("rerun")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		s.printEvents()

		ctx, cancel := signalContext()
		defer cancel()

		if err := s.main.RunSmoother(ctx, args[0], rerun); err != nil {
			return err
		}
		fmt.Printf("✓ Smoother update written to case %s\n", args[0])
		return nil
	},
}

var runExperimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run the whole schedule once without updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		members, _ := cmd.Flags().GetString("members")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		s.printEvents()

		active, err := parseMembers(members, s.main.Ensemble.Size())
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		if err := s.main.RunExperiment(ctx, active, false); err != nil {
			return err
		}
		fmt.Println("✓ Experiment complete")
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize parameters of the current case",
	Long: `Draw every parameter from its prior, or copy them from another case
with --from. Members that already hold parameters are kept unless --force
is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		from, _ := cmd.Flags().GetString("from")
		fromStep, _ := cmd.Flags().GetInt("from-step")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := signalContext()
		defer cancel()

		m := s.main
		if from != "" {
			members := make([]int, m.Ensemble.Size())
			for i := range members {
				members[i] = i
			}
			if err := m.InitializeFromExisting(ctx, from, fromStep, types.PhaseAnalyzed, members, nil); err != nil {
				return err
			}
			fmt.Printf("✓ Parameters copied from case %s\n", from)
			return nil
		}

		var keys []string
		for _, key := range m.Parameters() {
			if v, _ := m.Vars.Get(key); v.Prior != nil {
				keys = append(keys, key)
			}
		}
		if err := m.InitializeFromScratch(ctx, keys, 0, m.Ensemble.Size()-1, force); err != nil {
			return err
		}
		fmt.Printf("✓ Initialized %d parameters for %d members\n", len(keys), m.Ensemble.Size())
		return nil
	},
}

func init() {
	runCmd.AddCommand(runAssimilationCmd)
	runCmd.AddCommand(runSmootherCmd)
	runCmd.AddCommand(runExperimentCmd)

	runAssimilationCmd.Flags().Int("start-step", 0, "Report step to start the schedule from")
	runAssimilationCmd.Flags().String("members", "", "Members to run, e.g. 0-9,12 (default: all)")
	runExperimentCmd.Flags().String("members", "", "Members to run, e.g. 0-9,12 (default: all)")
	runSmootherCmd.Flags().Bool("rerun", false, "Run the ensemble again from the updated parameters")

	initCmd.Flags().Bool("force", false, "Redraw parameters that already exist")
	initCmd.Flags().String("from", "", "Copy parameters from this case instead of drawing them")
	initCmd.Flags().Int("from-step", 0, "Report step to copy from")
}

// parseMembers turns "0-4,7" into an activity mask; empty means all members
func parseMembers(spec string, size int) ([]bool, error) {
	if spec == "" {
		return nil, nil
	}
	active := make([]bool, size)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid member %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid member range %q", part)
			}
		}
		if first < 0 || last >= size || first > last {
			return nil, fmt.Errorf("member range %q outside ensemble of %d", part, size)
		}
		for iens := first; iens <= last; iens++ {
			active[iens] = true
		}
	}
	return active, nil
}
