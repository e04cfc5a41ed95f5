package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"finsight/internal/models"
	"finsight/pkg/utils"
)

// ============================================================
// login / logout
// ============================================================

type loginCmd struct {
	email    string
	password string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "sign in and store the session token" }
func (*loginCmd) Usage() string {
	return `finsight login -email <email> [-password <password>]

  Signs in to the FinSight API. Without -password the password is taken
  from FINSIGHT_PASSWORD or read from the first line of stdin.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.email, "email", "", "Account email.")
	f.StringVar(&c.password, "password", "", "Account password.")
}

func (c *loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	if err := utils.ValidateEmail(c.email); err != nil {
		fail(err)
		return subcommands.ExitUsageError
	}

	password := c.password
	if password == "" {
		password = os.Getenv("FINSIGHT_PASSWORD")
	}
	if password == "" {
		if password, err = readLine(a); err != nil {
			fail(fmt.Errorf("read password: %w", err))
			return subcommands.ExitFailure
		}
	}

	resp, err := a.client.Login(ctx, c.email, password)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	a.printf("Logged in as %s\n", resp.User.Email)
	if !a.persistent() {
		fmt.Fprintln(os.Stderr, "Warning: session is not saved, set FINSIGHT_SESSION_PASSPHRASE to keep it between runs")
	}
	return subcommands.ExitSuccess
}

func readLine(a *app) (string, error) {
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type logoutCmd struct{}

func (*logoutCmd) Name() string             { return "logout" }
func (*logoutCmd) Synopsis() string         { return "revoke the session token and forget it" }
func (*logoutCmd) Usage() string            { return "finsight logout\n" }
func (*logoutCmd) SetFlags(_ *flag.FlagSet) {}

func (*logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	if err := a.client.Logout(ctx); err != nil {
		// локальная сессия уже сброшена
		fmt.Fprintf(os.Stderr, "Warning: server did not revoke the token: %v\n", err)
	}
	a.println("Logged out")
	return subcommands.ExitSuccess
}

// ============================================================
// notifications / mark-read
// ============================================================

type notificationsCmd struct {
	unread bool
	limit  int
}

func (*notificationsCmd) Name() string     { return "notifications" }
func (*notificationsCmd) Synopsis() string { return "list notifications, newest first" }
func (*notificationsCmd) Usage() string {
	return "finsight notifications [-unread] [-n <count>]\n"
}

func (c *notificationsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.unread, "unread", false, "Show only unread notifications.")
	f.IntVar(&c.limit, "n", 20, "Maximum number of notifications to show (0 for all).")
}

func (c *notificationsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err == nil {
		err = a.requireLogin()
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	list, err := a.client.GetNotifications(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	unread := 0
	shown := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
		if c.unread && n.Read {
			continue
		}
		if c.limit > 0 && shown >= c.limit {
			continue
		}
		a.println(formatNotification(n, time.Now()))
		shown++
	}
	a.printf("%d notifications, %d unread\n", len(list), unread)
	return subcommands.ExitSuccess
}

type markReadCmd struct{}

func (*markReadCmd) Name() string             { return "mark-read" }
func (*markReadCmd) Synopsis() string         { return "mark all notifications as read" }
func (*markReadCmd) Usage() string            { return "finsight mark-read\n" }
func (*markReadCmd) SetFlags(_ *flag.FlagSet) {}

func (*markReadCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err == nil {
		err = a.requireLogin()
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	if err := a.client.MarkAllNotificationsRead(ctx); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a.println("All notifications marked as read")
	return subcommands.ExitSuccess
}

// ============================================================
// quote / alerts / delete-alert
// ============================================================

type quoteCmd struct{}

func (*quoteCmd) Name() string             { return "quote" }
func (*quoteCmd) Synopsis() string         { return "show the latest quote of one or more tickers" }
func (*quoteCmd) Usage() string            { return "finsight quote <TICKER> [TICKER...]\n" }
func (*quoteCmd) SetFlags(_ *flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one ticker is required")
		return subcommands.ExitUsageError
	}
	a, err := loadApp()
	if err == nil {
		err = a.requireLogin()
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	status := subcommands.ExitSuccess
	for _, arg := range f.Args() {
		if err := utils.ValidateTicker(arg); err != nil {
			fail(err)
			status = subcommands.ExitFailure
			continue
		}
		q, err := a.client.GetPrice(ctx, utils.NormalizeTicker(arg))
		if err != nil {
			fail(err)
			status = subcommands.ExitFailure
			continue
		}
		a.println(formatQuote(*q))
	}
	return status
}

type alertsCmd struct {
	ticker    string
	condition string
	threshold string
}

func (*alertsCmd) Name() string     { return "alerts" }
func (*alertsCmd) Synopsis() string { return "list price alerts or create a new one" }
func (*alertsCmd) Usage() string {
	return `finsight alerts [-ticker <TICKER> -condition GT|LT -threshold <price>]

  Without flags lists the alerts of the current user. With -ticker creates
  an alert that fires when the price goes strictly above (GT) or below (LT)
  the threshold.
`
}

func (c *alertsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "Ticker of the new alert.")
	f.StringVar(&c.condition, "condition", "GT", "Condition of the new alert: GT or LT.")
	f.StringVar(&c.threshold, "threshold", "", "Price threshold of the new alert.")
}

func (c *alertsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err == nil {
		err = a.requireLogin()
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	if c.ticker != "" {
		req, err := c.request()
		if err != nil {
			fail(err)
			return subcommands.ExitUsageError
		}
		alert, err := a.client.CreateAlert(ctx, req)
		if err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
		a.printf("Created alert %s\n", formatAlert(*alert))
		return subcommands.ExitSuccess
	}

	list, err := a.client.ListAlerts(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	if len(list) == 0 {
		a.println("No alerts")
		return subcommands.ExitSuccess
	}
	for _, alert := range list {
		a.println(formatAlert(alert))
	}
	return subcommands.ExitSuccess
}

// request собирает запрос на создание алерта из флагов
func (c *alertsCmd) request() (models.CreateAlertRequest, error) {
	threshold, err := decimal.NewFromString(c.threshold)
	if err != nil {
		return models.CreateAlertRequest{}, fmt.Errorf("invalid threshold %q", c.threshold)
	}
	req := models.CreateAlertRequest{
		Ticker:        utils.NormalizeTicker(c.ticker),
		ConditionType: models.ConditionType(strings.ToUpper(c.condition)),
		Threshold:     threshold,
	}
	if err := utils.ValidateTicker(req.Ticker); err != nil {
		return req, err
	}
	return req, req.Validate()
}

type deleteAlertCmd struct{}

func (*deleteAlertCmd) Name() string     { return "delete-alert" }
func (*deleteAlertCmd) Synopsis() string { return "delete a price alert and its notifications" }
func (*deleteAlertCmd) Usage() string {
	return "finsight delete-alert <id>\n"
}
func (*deleteAlertCmd) SetFlags(_ *flag.FlagSet) {}

func (*deleteAlertCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one alert id is required")
		return subcommands.ExitUsageError
	}
	id, err := strconv.ParseInt(f.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid alert id %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}

	a, err := loadApp()
	if err == nil {
		err = a.requireLogin()
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	if err := a.client.DeleteAlert(ctx, id); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a.printf("Deleted alert %d\n", id)
	return subcommands.ExitSuccess
}
