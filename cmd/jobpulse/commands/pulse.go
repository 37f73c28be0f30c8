package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/orchestrator"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/sym"
)

// PulseCmd groups timer inspection and manual dispatch
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Inspect and drive the timer dispatcher",
	Long: sym.Pulse + ` pulse - timer dispatcher

Timers are durable one-shot actions: auto-apply after the acceptance grace
period, follow-up reminders, and deletion of generated documents. The
server claims and fires due timers every pulse.ticker_interval_seconds.

Examples:
  jobpulse pulse timers                    # Pending timers, earliest first
  jobpulse pulse timers --status failed    # Timers whose handler failed
  jobpulse pulse stats                     # Counts by status and the next due timer
  jobpulse pulse tick                      # Fire due timers once and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var pulseTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Claim and fire due timers once",
	Long: `Run a single dispatcher tick against the configured database: reset
stale claims, claim due timers and run their handlers. Useful from cron
when the server runs with --no-pulse.`,
	RunE: runPulseTick,
}

var pulseTimersCmd = &cobra.Command{
	Use:   "timers",
	Short: "List timers",
	RunE:  runPulseTimers,
}

var pulseStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show timer counts by status",
	RunE:  runPulseStats,
}

var pulsePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished timers older than a cutoff",
	RunE:  runPulsePurge,
}

var (
	timersStatus string
	timersKind   string
	timersTarget string
	timersLimit  int
	purgeAfter   time.Duration
)

func init() {
	pulseTimersCmd.Flags().StringVar(&timersStatus, "status", string(timer.StatusPending), "Filter by status (pending, processing, completed, failed, cancelled, all)")
	pulseTimersCmd.Flags().StringVar(&timersKind, "kind", "", "Filter by kind")
	pulseTimersCmd.Flags().StringVar(&timersTarget, "target", "", "Filter by target (application or document ID)")
	pulseTimersCmd.Flags().IntVar(&timersLimit, "limit", 50, "Maximum rows")
	pulsePurgeCmd.Flags().DurationVar(&purgeAfter, "older-than", 30*24*time.Hour, "Age of finished timers to delete")

	PulseCmd.AddCommand(pulseTickCmd)
	PulseCmd.AddCommand(pulseTimersCmd)
	PulseCmd.AddCommand(pulseStatsCmd)
	PulseCmd.AddCommand(pulsePurgeCmd)
}

func runPulseTick(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	orch := orchestrator.New(database, dialect, svc.Services, orchestratorConfig(cfg), logger.Logger)
	defer orch.Close()

	res, err := orch.ProcessPendingTimers(ctx)
	if err != nil {
		return errors.Wrap(err, "tick failed")
	}

	pterm.Success.Printf("%s Tick complete in %s\n", sym.Pulse, res.Duration.Round(time.Millisecond))
	pterm.DefaultTable.WithData(pterm.TableData{
		{"Reset", "Claimed", "Completed", "Failed"},
		{fmt.Sprint(res.Reset), fmt.Sprint(res.Claimed), fmt.Sprint(res.Completed), fmt.Sprint(res.Failed)},
	}).WithHasHeader().Render()
	return nil
}

// openTimerStore opens the database for read-mostly timer commands
func openTimerStore() (*timer.Store, func(), error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	database, dialect, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return timer.NewStore(database, dialect), func() { database.Close() }, nil
}

func runPulseTimers(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openTimerStore()
	if err != nil {
		return err
	}
	defer closeDB()

	filter := timer.ListFilter{
		Kind:     timer.Kind(timersKind),
		TargetID: timersTarget,
		Limit:    timersLimit,
	}
	if timersStatus != "all" {
		filter.Status = timer.Status(timersStatus)
	}

	timers, err := store.List(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(timers) == 0 {
		pterm.Info.Println("No timers")
		return nil
	}

	data := pterm.TableData{{"ID", "Kind", "Target", "User", "Due", "Status", "Attempts", "Error"}}
	now := time.Now()
	for _, t := range timers {
		data = append(data, []string{
			t.ID,
			string(t.Kind),
			t.TargetID,
			t.UserID,
			formatDue(t.DueAt, now),
			colorStatus(t.Status),
			fmt.Sprint(t.Attempts),
			t.LastError,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runPulseStats(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openTimerStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := context.Background()
	counts, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Status", "Timers"}}
	for _, status := range []timer.Status{timer.StatusPending, timer.StatusProcessing, timer.StatusCompleted, timer.StatusFailed, timer.StatusCancelled} {
		data = append(data, []string{colorStatus(status), fmt.Sprint(counts[status])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	next, err := store.NextDue(ctx)
	switch {
	case err != nil:
		return err
	case next == nil:
		pterm.Info.Println("Nothing pending")
	default:
		pterm.Info.Printf("Next due: %s %s for %s (%s)\n", next.Kind, next.ID, next.TargetID, formatDue(next.DueAt, time.Now()))
	}
	return nil
}

func runPulsePurge(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openTimerStore()
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := store.PurgeFinished(context.Background(), time.Now().Add(-purgeAfter))
	if err != nil {
		return err
	}
	pterm.Success.Printf("Purged %d finished timers older than %s\n", n, purgeAfter)
	return nil
}

func formatDue(due, now time.Time) string {
	d := due.Sub(now).Round(time.Second)
	if d >= 0 {
		return fmt.Sprintf("%s (in %s)", due.Local().Format(time.DateTime), d)
	}
	return fmt.Sprintf("%s (%s ago)", due.Local().Format(time.DateTime), -d)
}

func colorStatus(s timer.Status) string {
	switch s {
	case timer.StatusPending:
		return pterm.Cyan(string(s))
	case timer.StatusProcessing:
		return pterm.Yellow(string(s))
	case timer.StatusCompleted:
		return pterm.Green(string(s))
	case timer.StatusFailed:
		return pterm.Red(string(s))
	default:
		return pterm.Gray(string(s))
	}
}
