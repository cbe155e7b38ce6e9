package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"StakeLedger/internal/extrapolation"
	fpmath "StakeLedger/internal/math"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/server"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := observability.NewLogger("stakewatch")

	app := &cli.App{
		Name:  "stakewatch",
		Usage: "live view of a user's pending staking reward",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "localhost:9090", Usage: "ledger gRPC address", EnvVars: []string{"STAKE_GRPC_TARGET"}},
			&cli.StringFlag{Name: "user", Usage: "user id to watch", Required: true},
			&cli.DurationFlag{Name: "interval", Value: extrapolation.DefaultPollInterval, Usage: "refresh interval"},
			&cli.BoolFlag{Name: "once", Usage: "print one projection and exit"},
		},
		Action: watch,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatal().Err(err).Msg("stakewatch failed")
	}
}

func watch(c *cli.Context) error {
	userID := c.String("user")
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("invalid --user %q: %w", userID, err)
	}

	client, err := server.Dial(c.String("server"))
	if err != nil {
		return err
	}
	defer client.Close()

	tracker := extrapolation.NewTracker()
	render := func(p extrapolation.Projection) { renderProjection(os.Stdout, userID, p) }

	poller := extrapolation.NewPoller(client, tracker, userID, c.Duration("interval"), render)
	if c.Bool("once") {
		if err := poller.Poll(c.Context); err != nil {
			return err
		}
		render(tracker.Project(uint64(time.Now().Unix())))
		return nil
	}

	if err := poller.Run(c.Context); err != nil && c.Context.Err() == nil {
		return err
	}
	return nil
}

func renderProjection(w io.Writer, userID string, p extrapolation.Projection) {
	fmt.Fprintf(w, "\nuser %s at %s\n", userID, time.Unix(int64(p.Now), 0).UTC().Format(time.RFC3339))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Horizon", "Pending reward"})
	table.Append([]string{"Current", formatWad(p.Current)})
	table.Append([]string{"In 90 days", formatWad(p.In90Days)})
	table.Append([]string{"In 10 years", formatWad(p.In10Years)})
	table.Append([]string{"Generation rate", fmt.Sprintf("%.6f%%", p.GenerationRatePercent)})
	table.Render()
}

// formatWad renders an 18-decimal amount with trailing zeros trimmed.
func formatWad(v *uint256.Int) string {
	if v == nil || v.IsZero() {
		return "0"
	}
	whole, frac := new(uint256.Int).DivMod(v, fpmath.Wad, new(uint256.Int))
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := strings.TrimRight(fmt.Sprintf("%018s", frac.Dec()), "0")
	return whole.Dec() + "." + digits
}
