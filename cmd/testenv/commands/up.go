package commands

import (
	"bytes"
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mongowebapi/mongo-web-api/pkg/environment"
	"github.com/mongowebapi/mongo-web-api/pkg/logging"
)

func newUpCmd() *cobra.Command {
	var quiet bool
	c := &cobra.Command{
		Use:   "up",
		Short: "Start a database and the service, and keep them running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if quiet {
				cfg.Echo = false
			}
			env, err := environment.New(cfg, log, environment.WithEcho(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if err != nil {
				return errors.Wrap(err, "Failed to create environment")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := env.Bootstrap(ctx); err != nil {
				if shutdownErr := env.Shutdown(context.Background()); shutdownErr != nil {
					log.Errorf("Cleanup after failed bootstrap: %v", shutdownErr)
				}
				return errors.Wrap(err, "Failed to bootstrap environment")
			}

			info, err := describe(env, log)
			if err != nil {
				if shutdownErr := env.Shutdown(context.Background()); shutdownErr != nil {
					log.Errorf("Cleanup after failed describe: %v", shutdownErr)
				}
				return err
			}
			cmd.Print(environmentTable(info))

			<-ctx.Done()
			log.Infoln("Interrupted, shutting down")
			return errors.Wrap(env.Shutdown(context.Background()), "Failed to shut down environment")
		},
	}
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not echo service output")
	return c
}

// environmentInfo is what up reports about a running environment.
type environmentInfo struct {
	ServerURL   string
	DatabaseURL string
	PID         int
	Executable  string
	Started     time.Time
}

// describe collects the URLs of a bootstrapped environment. Process details
// are best effort: a platform without process inspection leaves them blank.
func describe(env *environment.Environment, log logging.Logger) (environmentInfo, error) {
	serverURL, err := env.ServerURL()
	if err != nil {
		return environmentInfo{}, err
	}
	dbURL, err := env.DatabaseURL()
	if err != nil {
		return environmentInfo{}, err
	}
	info := environmentInfo{
		ServerURL:   serverURL,
		DatabaseURL: dbURL,
		PID:         env.Process().PID(),
	}
	proc, err := env.Process().Describe()
	if err != nil {
		log.Warnf("Process details unavailable: %v", err)
		return info, nil
	}
	info.Executable = proc.Exe
	info.Started = proc.StartTime
	return info, nil
}

func environmentTable(info environmentInfo) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"COMPONENT", "URL", "PID", "EXECUTABLE", "STARTED"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	pid := "-"
	if info.PID > 0 {
		pid = strconv.Itoa(info.PID)
	}
	exe := "-"
	if info.Executable != "" {
		exe = info.Executable
	}
	started := "-"
	if !info.Started.IsZero() {
		started = info.Started.Format(time.RFC3339)
	}
	table.Append([]string{"service", info.ServerURL, pid, exe, started})
	table.Append([]string{"database", info.DatabaseURL, "-", "-", "-"})

	table.Render()
	return buf.String()
}
