package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mamadbah2/bloodbank/internal/config"
	"github.com/mamadbah2/bloodbank/internal/domain/compatibility"
	"github.com/mamadbah2/bloodbank/internal/domain/models"
	"github.com/mamadbah2/bloodbank/internal/repository/sheets"
	"github.com/mamadbah2/bloodbank/internal/service/priority"
	"github.com/mamadbah2/bloodbank/internal/service/reporting"
	bankclient "github.com/mamadbah2/bloodbank/pkg/clients/bloodbank"
	"github.com/mamadbah2/bloodbank/pkg/logger"
)

var compatCmd = &cli.Command{
	Name:      "compat",
	Usage:     "Show donors, recipients and fallback order of a blood type",
	ArgsUsage: "<type>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return errors.New("expected exactly one blood type")
		}
		bt, err := models.ParseBloodType(ctx.Args().First())
		if err != nil {
			return err
		}
		return printCompat(ctx.App.Writer, bt)
	},
}

var scoreCmd = &cli.Command{
	Name:  "score",
	Usage: "Compute the priority score of a hypothetical request",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "urgency",
			Value: string(models.UrgencyRoutine),
			Usage: "specify the urgency (routine, urgent, emergency)",
		},
		&cli.IntFlag{
			Name:  "priority",
			Value: 3,
			Usage: "specify the requester priority (1-5)",
		},
		&cli.DurationFlag{
			Name:     "due-in",
			Required: true,
			Usage:    "specify the time left until the deadline, e.g. 3h",
		},
	},
	Action: func(ctx *cli.Context) error {
		urgency, err := models.ParseUrgency(ctx.String("urgency"))
		if err != nil {
			return err
		}
		p := ctx.Int("priority")
		if p < models.MinPriority || p > models.MaxPriority {
			return fmt.Errorf("invalid priority %d", p)
		}
		now := time.Now()
		req := models.Request{
			Urgency:    urgency,
			Priority:   p,
			RequiredBy: now.Add(ctx.Duration("due-in")),
			Status:     models.RequestPending,
		}
		_, err = fmt.Fprintf(ctx.App.Writer, "score %.1f (urgency x%.1f, deadline x%.1f)\n",
			priority.Score(req, now),
			priority.UrgencyMultiplier(urgency),
			priority.DeadlineMultiplier(req.TimeRemaining(now)))
		return err
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "Ask the running server to expire stale units now",
	Action: func(ctx *cli.Context) error {
		c, cancel := context.WithTimeout(ctx.Context, time.Minute)
		defer cancel()

		res, err := serverClient(ctx).Sweep(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "expired %d unit(s)\n", res.ExpiredCount)
		for _, bt := range models.AllBloodTypes {
			if n := res.ByType[bt]; n > 0 {
				fmt.Fprintf(ctx.App.Writer, "  %-3s %d\n", bt, n)
			}
		}
		return nil
	},
}

var stockCmd = &cli.Command{
	Name:  "stock",
	Usage: "Print the stock overview of the running server",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print JSON instead of a table",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, cancel := context.WithTimeout(ctx.Context, time.Minute)
		defer cancel()

		reports, err := serverClient(ctx).Stock(c)
		if err != nil {
			return err
		}
		if ctx.Bool("json") {
			enc := json.NewEncoder(ctx.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		}
		return printStock(ctx.App.Writer, reports)
	},
}

var availabilityCmd = &cli.Command{
	Name:  "availability",
	Usage: "Average the available count of a blood type over the report sheet history",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "type",
			Required: true,
			Usage:    "specify the blood type, e.g. O-",
		},
		&cli.IntFlag{
			Name:  "days",
			Value: 7,
			Usage: "specify how many days of history to read",
		},
	},
	Action: func(ctx *cli.Context) error {
		bt, err := models.ParseBloodType(ctx.String("type"))
		if err != nil {
			return err
		}
		days := ctx.Int("days")
		if days < 1 {
			return fmt.Errorf("invalid days %d", days)
		}
		cfg, err := config.Load(ctx.String("env"))
		if err != nil {
			return err
		}
		if !cfg.Sheets.Enabled() {
			return errors.New("google sheets is not configured")
		}
		log, err := logger.New("warn")
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		c, cancel := context.WithTimeout(ctx.Context, time.Minute)
		defer cancel()

		sheetsRepo, err := sheets.NewGoogleSheetRepository(c, cfg.Sheets, logger.Named(log, "repo.sheets"))
		if err != nil {
			return err
		}
		svc := reporting.NewService(nil, sheetsRepo, nil, logger.Named(log, "svc.reporting"))
		end := time.Now()
		summary, err := svc.AverageAvailability(c, bt, end.AddDate(0, 0, -days), end)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(ctx.App.Writer, summary)
		return err
	},
}

func serverClient(ctx *cli.Context) bankclient.Client {
	return bankclient.NewClient(ctx.String("server"))
}

func printCompat(w io.Writer, bt models.BloodType) error {
	join := func(types []models.BloodType) string {
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = t.String()
		}
		return strings.Join(parts, " ")
	}
	_, err := fmt.Fprintf(w, "%s\n  donates to:     %s\n  receives from:  %s\n  fallback order: %s\n",
		bt,
		join(compatibility.CanDonateTo(bt)),
		join(compatibility.CanReceiveFrom(bt)),
		join(compatibility.FallbackOrder(bt)))
	return err
}

func printStock(w io.Writer, reports []models.StockReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tAVAILABLE\tRESERVED\tDISPATCHED\tEXPIRED\tDISCARDED\tSTATUS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.BloodType, r.Available, r.Reserved, r.Dispatched, r.Expired, r.Discarded, r.Status)
	}
	return tw.Flush()
}
