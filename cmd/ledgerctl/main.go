/*
ledgerctl runs ledger jobs once from the command line against the
configured store. Reports are printed to stdout as JSON; logs go to
stderr.

EXAMPLES:
  ledgerctl sweep
  ledgerctl sweep --today 2024-03-15
  ledgerctl snapshot --date 2024-03-14
  ledgerctl recalculate --from 2024-01-01 --to 2024-03-31 --account acc-1 --mode replay
  ledgerctl post --user u1 --account acc-1 --payment-method card --name Rent \
                 --category housing --type expense --value 1500.00 --recurring monthly
*/
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/warp/finance-ledger/bootstrap"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/logging"
	"github.com/warp/finance-ledger/money"
)

// globals holds options shared by every command
type globals struct {
	Config   string `help:"YAML config file."`
	LogLevel string `name:"log-level" help:"Overrides log.level."`
}

// cli commands / args available
var cli struct {
	Globals globals `embed:""`

	Sweep       sweepCmd       `cmd:"" help:"Materialize due recurring and installment occurrences."`
	Snapshot    snapshotCmd    `cmd:"" help:"Write today's balance for every account."`
	Recalculate recalculateCmd `cmd:"" help:"Rebuild balance history over a date range."`
	Post        postCmd        `cmd:"" help:"Post a single transaction."`
}

type sweepCmd struct {
	Today string `help:"Sweep as of this UTC day (YYYY-MM-DD). Defaults to the clock."`
}

type snapshotCmd struct {
	Date string `help:"Snapshot date (YYYY-MM-DD). Defaults to today, backdated inside the grace window."`
}

type recalculateCmd struct {
	From    string `required:"" help:"First day (YYYY-MM-DD)."`
	To      string `required:"" help:"Last day (YYYY-MM-DD)."`
	Account string `help:"Account id. Empty recalculates every account."`
	Mode    string `help:"current or replay. Defaults to engine.recalc_mode."`
}

type postCmd struct {
	User          string `required:"" help:"Owner of the account."`
	Account       string `required:"" help:"Account id."`
	PaymentMethod string `name:"payment-method" required:"" help:"Payment method linked to the account."`
	Name          string `required:"" help:"Transaction name."`
	Category      string `help:"Category."`
	Type          string `required:"" enum:"income,expense" help:"income or expense."`
	Value         string `required:"" help:"Amount, two decimals at most."`
	Date          string `help:"Release date (YYYY-MM-DD). Defaults to today."`
	Recurring     string `help:"weekly, monthly or yearly. Makes this the first occurrence of a recurring series."`
	Installments  int    `help:"Split the value into this many monthly installments."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("ledgerctl"),
		kong.Description("Finance ledger maintenance jobs."),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (c *sweepCmd) Run(g *globals) error {
	return g.withApp(func(ctx context.Context, app *bootstrap.App) (any, error) {
		if c.Today == "" {
			return app.Engine.RunRecurringAndInstallmentSweep(ctx)
		}
		today, err := ledger.ParseDate(c.Today)
		if err != nil {
			return nil, err
		}
		return app.Engine.RunSweepAt(ctx, today)
	})
}

func (c *snapshotCmd) Run(g *globals) error {
	return g.withApp(func(ctx context.Context, app *bootstrap.App) (any, error) {
		var date *ledger.Date
		if c.Date != "" {
			d, err := ledger.ParseDate(c.Date)
			if err != nil {
				return nil, err
			}
			date = &d
		}
		return app.Engine.RunDailyBalanceSnapshot(ctx, date)
	})
}

func (c *recalculateCmd) Run(g *globals) error {
	from, err := ledger.ParseDate(c.From)
	if err != nil {
		return err
	}
	to, err := ledger.ParseDate(c.To)
	if err != nil {
		return err
	}
	return g.withApp(func(ctx context.Context, app *bootstrap.App) (any, error) {
		mode := app.Engine.Config.RecalcMode
		if c.Mode != "" {
			mode = ledger.RecalcMode(c.Mode)
		}
		return app.Engine.Recalculate(ctx, ledger.AccountID(c.Account), from, to, mode)
	})
}

func (c *postCmd) Run(g *globals) error {
	value, err := money.Parse(c.Value)
	if err != nil {
		return err
	}
	tx := ledger.Transaction{
		UserID:             ledger.UserID(c.User),
		AccountID:          ledger.AccountID(c.Account),
		PaymentMethodID:    ledger.PaymentMethodID(c.PaymentMethod),
		Name:               c.Name,
		Category:           c.Category,
		Type:               ledger.TransactionType(c.Type),
		Value:              value,
		Recurring:          c.Recurring != "",
		RecurringType:      ledger.RecurringType(c.Recurring),
		NumberInstallments: c.Installments,
	}
	if c.Date != "" {
		if tx.ReleaseDate, err = ledger.ParseDate(c.Date); err != nil {
			return err
		}
	}
	return g.withApp(func(ctx context.Context, app *bootstrap.App) (any, error) {
		return app.Engine.PostTransaction(ctx, tx)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// withApp wires the engine, runs fn and prints its result as JSON.
func (g *globals) withApp(fn func(ctx context.Context, app *bootstrap.App) (any, error)) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	log := logging.NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr}).Level(logging.ParseLevel(level))
	ctx := logging.WithContext(context.Background(), log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := fn(ctx, app)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
