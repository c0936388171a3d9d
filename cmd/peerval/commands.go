package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"peer-validation/internal/models"
)

var (
	flagPeriod string
	flagCohort []string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply database migrations and exit",
	RunE: func(*cobra.Command, []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.db == nil {
			return errors.New("DATABASE_URL is required for migrate")
		}
		a.log.Info().Msg("migrations applied")
		return nil
	},
}

var buildRingCmd = &cobra.Command{
	Use:   "build-ring",
	Short: "publish the rotation ring of a period",
	Long: "Publishes the ring of --period (default: current month). Without --cohort the " +
		"active validators form the cohort. Rebuilding a published period is a no-op when " +
		"the cohort matches and an error otherwise.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		period := periodOrCurrent(flagPeriod)
		ring, err := a.svc.BuildRotation(cmd.Context(), period, flagCohort)
		if err != nil {
			return fmt.Errorf("build ring %s: %w", period, err)
		}
		return printRing(ring)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "recompute and store validator performance for a period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		period := periodOrCurrent(flagPeriod)
		stats, err := a.svc.ScanPeriod(cmd.Context(), period)
		if err != nil {
			return fmt.Errorf("scan %s: %w", period, err)
		}
		return printStats(stats)
	},
}

func init() {
	for _, c := range []*cobra.Command{buildRingCmd, scanCmd, monitorCmd} {
		c.Flags().StringVar(&flagPeriod, "period", "", "period key YYYY-MM (default: current month, UTC)")
	}
	buildRingCmd.Flags().StringSliceVar(&flagCohort, "cohort", nil, "explicit validator ids (default: active validators)")
}

func printRing(ring []models.RingAssignment) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POSITION\tVALIDATOR")
	for _, ra := range ring {
		fmt.Fprintf(w, "%d\t%s\n", ra.Position, ra.ValidatorID)
	}
	return w.Flush()
}

func printStats(stats []models.ValidatorPeriodStats) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VALIDATOR\tASSIGNED\tCAST\tON TIME\tMISSED\tEXCUSED\tBLOCKED")
	for _, st := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%t\n",
			st.ValidatorID, st.TotalAssigned, st.TotalCast, st.OnTime, st.Missed, st.Excused, st.Blocked)
	}
	return w.Flush()
}
