package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"peer-validation/internal/tui"
	"peer-validation/internal/validation"
)

const (
	monitorLogFile = "monitor.log"
	tuiBufferSize  = 8
	tuiCloseDelay  = 100 * time.Millisecond
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "live terminal board of a period's ring and validator stats",
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	// Logs would interfere with the TUI, so they go to a file
	logFile, err := os.OpenFile(monitorLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", monitorLogFile, err)
	}
	defer logFile.Close()
	fmt.Fprintf(os.Stderr, "Logs written to %s\n", monitorLogFile)

	a, err := newApp(logFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	period := periodOrCurrent(flagPeriod)
	updates := make(chan interface{}, tuiBufferSize)
	tuiDone := make(chan error, 1)
	go func() {
		tuiDone <- tui.Run(updates)
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	ticker := time.NewTicker(a.cfg.MonitorRefresh)
	defer ticker.Stop()
	for {
		refreshBoard(ctx, a, period, updates)
		select {
		case <-ctx.Done():
			close(updates)
			select {
			case err := <-tuiDone:
				return err
			case <-time.After(tuiCloseDelay):
				return nil
			}
		case <-ticker.C:
		}
	}
}

func refreshBoard(ctx context.Context, a *app, period string, updates chan<- interface{}) {
	settings := a.svc.Settings()
	header := tui.Header{
		Period:      period,
		FanOut:      settings.Rules.FanOut,
		Quorum:      settings.Quorum,
		SLA:         settings.Rules.SLA,
		Threshold:   settings.Rules.BlockThreshold,
		RefreshedAt: time.Now(),
	}
	board, err := a.svc.Board(ctx, period)
	if err != nil {
		a.log.Warn().Err(err).Str("period", period).Msg("board refresh failed")
		header.Err = err.Error()
	}
	send(updates, header)
	send(updates, toRows(board))
}

// send drops the update if the TUI is not keeping up; the next refresh
// carries the full state again.
func send(updates chan<- interface{}, v interface{}) {
	select {
	case updates <- v:
	default:
	}
}

func toRows(board []validation.BoardRow) []tui.Row {
	rows := make([]tui.Row, len(board))
	for i, b := range board {
		duties := make([]string, len(b.Validatees))
		for j, v := range b.Validatees {
			duties[j] = displayName(v.DisplayName, v.ID)
		}
		rows[i] = tui.Row{
			Position:   b.Position,
			ID:         b.Validator.ID,
			Name:       displayName(b.Validator.DisplayName, b.Validator.ID),
			Color:      b.Validator.Color,
			Validatees: duties,
			Assigned:   b.Stats.TotalAssigned,
			OnTime:     b.Stats.OnTime,
			Missed:     b.Stats.Missed,
			Excused:    b.Stats.Excused,
			Blocked:    b.Stats.Blocked,
		}
	}
	return rows
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
