package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/orchestrator"
	"github.com/teranos/jobpulse/server"
	"github.com/teranos/jobpulse/sym"
	"github.com/teranos/jobpulse/version"
)

// ServeCmd starts the HTTP server and the timer dispatcher
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the jobpulse server and timer dispatcher",
	Long: `Start the HTTP API, the notification stream and the timer dispatcher.

The server runs until interrupted. The first Ctrl+C drains in-flight
requests and timer handlers; a second one exits immediately.

Configuration changes to pulse.ticker_interval_seconds are applied
without a restart.`,
	RunE: runServe,
}

var (
	servePort    int
	serveNoPulse bool
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	ServeCmd.Flags().BoolVar(&serveNoPulse, "no-pulse", false, "Serve the API without dispatching timers")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}

	database, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	orch := orchestrator.New(database, dialect, svc.Services, orchestratorConfig(cfg), logger.Logger)
	defer orch.Close()

	if svc.relay != nil {
		go func() {
			if err := svc.relay.Run(ctx); err != nil {
				logger.Errorw("Notification relay stopped", logger.FieldError, err)
			}
		}()
	}

	if !serveNoPulse {
		orch.Start()
	}

	if path := am.ActiveConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config hot reload disabled", logger.FieldError, err)
		} else {
			watcher.OnReload(func(c *am.Config) error {
				orch.SetPollInterval(c.TickerInterval())
				return nil
			})
			watcher.Start()
			am.SetGlobalWatcher(watcher)
			defer watcher.Stop()
		}
	}

	srv := server.New(orch, cfg.Server, logger.Logger)
	if err := srv.Start(port); err != nil {
		return errors.Wrap(err, "server failed to start")
	}
	printStartupBanner(cfg, describeDatabase(cfg, dialect), port, svc)

	// GRACE: Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

	shutdownDone := make(chan error, 1)
	go func() {
		err := srv.Stop()
		orch.Stop()
		shutdownDone <- err
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		pterm.Success.Printf("%s Server stopped cleanly\n", sym.PulseClose)
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil // unreachable
	}
}

// printStartupBanner prints the user-facing startup summary
func printStartupBanner(cfg *am.Config, database string, port int, svc *services) {
	versionInfo := version.Get()

	enabled := func(ok bool, detail string) string {
		if ok {
			return pterm.Green("on") + " " + detail
		}
		return pterm.Gray("off")
	}

	pterm.DefaultSection.Printf("%s jobpulse %s", sym.PulseOpen, versionInfo.Version)
	pterm.DefaultTable.WithData(pterm.TableData{
		{"API", fmt.Sprintf("http://localhost:%d", port)},
		{"Database", database},
		{"Commit", versionInfo.Short()},
		{"Pulse interval", cfg.TickerInterval().String()},
		{"Generation", cfg.Generation.BaseURL},
		{"Email", enabled(svc.mailer, cfg.Email.BaseURL)},
		{"Storage", cfg.Storage.Backend},
		{"Redis relay", enabled(svc.relay != nil, cfg.Notify.Channel)},
	}).Render()
	pterm.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
}
