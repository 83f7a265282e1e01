package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"autotrader/cmd/executor"
	"autotrader/cmd/keys"
	"autotrader/src/controller"
	"autotrader/src/database"
	"autotrader/src/logging"
	"autotrader/src/repository"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	closer, err := logging.SetupLogger(logging.GetConfig())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()

	app := cli.NewApp()
	app.Name = "autotrader"
	app.Usage = "Breakout auto-trading position engine"
	app.Version = Version

	app.Commands = []cli.Command{
		executorCMD,
		signalCMD,
		exitCheckCMD,
		setKeyCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		closer.Close()
		os.Exit(1)
	}
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run Executor",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP server, the exit loop and the price stream`,
	}
	signalCMD = cli.Command{
		Name:   "signal",
		Usage:  "run one buy sweep for a breakout signal",
		Action: signalAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "crypto", Usage: "asset, e.g. btc"},
			cli.Float64Flag{Name: "entry-price", Usage: "breakout entry price"},
			cli.UintFlag{Name: "alert-id", Usage: "triggering alert id"},
			cli.StringFlag{Name: "pattern", Usage: "breakout pattern"},
		},
		Description: `Run the buy path for every account that enabled the asset`,
	}
	exitCheckCMD = cli.Command{
		Name:   "exitcheck",
		Usage:  "run one exit sweep",
		Action: exitCheckAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "crypto", Usage: "asset, e.g. btc"},
			cli.Float64Flag{Name: "price", Usage: "price to evaluate; live price when omitted"},
		},
		Description: `Evaluate TP/SL/MAX_HOLD on open positions and sell the triggered ones`,
	}
	setKeyCMD = cli.Command{
		Name:   "set_key",
		Usage:  "encrypt and store exchange API credentials",
		Action: setKeyAction,
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "owner user id"},
			cli.StringFlag{Name: "name", Usage: "key name"},
			cli.StringFlag{Name: "key", Usage: "exchange api key"},
			cli.StringFlag{Name: "secret", Usage: "exchange api secret"},
			cli.BoolFlag{Name: "testnet", Usage: "key belongs to the testnet"},
			cli.BoolFlag{Name: "spot", Usage: "trade spot instead of futures"},
			cli.StringFlag{Name: "assets", Usage: "comma separated assets to enable, e.g. btc,eth"},
		},
		Description: `Create or refresh a trading API key`,
	}
)

func executorAction(_ *cli.Context) error {
	logrus.WithField("cmd", "executor").Info("Starting executor CMD")

	executorStrategy := &executor.Executor{}
	if err := executorStrategy.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func signalAction(c *cli.Context) error {
	crypto := strings.TrimSpace(c.String("crypto"))
	if crypto == "" {
		return cli.NewExitError("--crypto is required", 2)
	}
	ctx, stop := commandContext()
	defer stop()

	app, err := executor.NewApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	sig := controller.Signal{
		EntryPrice: c.Float64("entry-price"),
		Pattern:    c.String("pattern"),
		Source:     "cli",
	}
	if c.IsSet("alert-id") {
		id := c.Uint("alert-id")
		sig.AlertID = &id
	}

	report, err := app.Trader.ExecuteBuySignal(ctx, crypto, sig)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func exitCheckAction(c *cli.Context) error {
	crypto := strings.TrimSpace(c.String("crypto"))
	if crypto == "" {
		return cli.NewExitError("--crypto is required", 2)
	}
	ctx, stop := commandContext()
	defer stop()

	app, err := executor.NewApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Trader.CheckExitConditions(ctx, crypto, c.Float64("price"))
	if err != nil {
		return err
	}
	return printJSON(report)
}

func setKeyAction(c *cli.Context) error {
	ctx, stop := commandContext()
	defer stop()

	if err := database.InitMainDB(); err != nil {
		return err
	}

	var assets []string
	if raw := c.String("assets"); raw != "" {
		assets = strings.Split(raw, ",")
	}

	key, err := keys.SetKey(ctx, repository.NewAPIKeyRepository(), keys.GetConfig(), keys.SetKeyOptions{
		UserID:  c.Uint("user"),
		Name:    c.String("name"),
		Key:     c.String("key"),
		Secret:  c.String("secret"),
		Testnet: c.Bool("testnet"),
		Spot:    c.Bool("spot"),
		Assets:  assets,
	})
	if err != nil {
		return err
	}
	return printJSON(key)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
