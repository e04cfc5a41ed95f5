package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finsight/internal/livesync"
	"finsight/internal/models"
	"finsight/pkg/utils"
)

type watchCmd struct {
	ticker   string
	holdings string
	metrics  string
}

func (*watchCmd) Name() string { return "watch" }
func (*watchCmd) Synopsis() string {
	return "live dashboard: notifications, quote and portfolio valuation"
}
func (*watchCmd) Usage() string {
	return `finsight watch [-ticker <TICKER>] [-holdings <file.json>] [-metrics <addr>]

  Opens the live notification stream and, optionally, a ticker quote and a
  portfolio valuation. Commands are read from stdin, one per line:

    <TICKER>    switch the live quote to another ticker
    read        mark all notifications as read
    reconnect   reopen live streams after an error
    status      show stream states
    quit        exit
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "Ticker to watch on start.")
	f.StringVar(&c.holdings, "holdings", "", "JSON file with holdings for live valuation.")
	f.StringVar(&c.metrics, "metrics", "", "Address to serve Prometheus metrics on, e.g. :9100.")
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err == nil {
		err = a.requireLogin()
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	var holdings []models.Holding
	if c.holdings != "" {
		if holdings, err = readHoldings(c.holdings); err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
	}

	if c.metrics != "" {
		srv := &http.Server{Addr: c.metrics, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("metrics server stopped", utils.Err(err))
			}
		}()
		defer srv.Close()
	}

	if err := runWatch(ctx, a, c.ticker, holdings); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// readHoldings читает позиции портфеля из JSON массива
func readHoldings(path string) ([]models.Holding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holdings: %w", err)
	}
	var holdings []models.Holding
	if err := models.JSON.Unmarshal(data, &holdings); err != nil {
		return nil, fmt.Errorf("parse holdings %s: %w", path, err)
	}
	for i, h := range holdings {
		if err := utils.ValidateTicker(h.Ticker); err != nil {
			return nil, fmt.Errorf("holding %d: %w", i, err)
		}
		if !h.Quantity.IsPositive() {
			return nil, fmt.Errorf("holding %d (%s): quantity must be positive", i, h.Ticker)
		}
	}
	return holdings, nil
}

// runWatch держит дашборд открытым до quit, конца stdin, отмены ctx
// или завершения сессии
func runWatch(ctx context.Context, a *app, ticker string, holdings []models.Holding) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := a.newCache()
	defer c.Close()

	dash := livesync.NewDashboard(livesync.DashboardConfig{
		API:      a.client,
		Dialer:   a.dialer,
		Session:  a.session,
		Cache:    c,
		Holdings: holdings,
		Stream:   a.streamConfig(),
		Logger:   a.logger,
	})
	defer dash.Close()

	ended := make(chan string, 1)
	stopListen := a.session.OnInvalidate(func(reason string) {
		select {
		case ended <- reason:
		default:
		}
	})
	defer stopListen()

	if err := dash.Start(ctx); err != nil {
		return err
	}

	var (
		seenMu     sync.Mutex
		lastTop    int64
		lastUnread = -1
	)
	stopNotifications := dash.Notifications.Watch(func(list []models.Notification) {
		seenMu.Lock()
		defer seenMu.Unlock()
		unread := models.CountUnread(list)
		if len(list) > 0 && list[0].ID != lastTop {
			if lastTop != 0 {
				a.println(formatNotification(list[0], time.Now()))
			}
			lastTop = list[0].ID
		}
		if unread != lastUnread {
			a.printf("Unread notifications: %d\n", unread)
			lastUnread = unread
		}
	})
	defer stopNotifications()

	stopQuote := dash.Quote.OnChange(func(q models.Quote) {
		a.println(formatQuote(q))
	})
	defer stopQuote()

	if dash.Valuator != nil {
		stopValuation := dash.Valuator.Watch(func(v models.Valuation) {
			a.println(formatValuation(v))
		})
		defer stopValuation()
	}

	if ticker != "" {
		if err := dash.Quote.Watch(ctx, ticker); err != nil {
			a.printf("Quote %s: %v\n", utils.NormalizeTicker(ticker), err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-ended:
			return fmt.Errorf("session ended (%s), login again", reason)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleWatchCommand(ctx, a, dash, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handleWatchCommand выполняет одну команду; true - выход
func handleWatchCommand(ctx context.Context, a *app, dash *livesync.Dashboard, line string) bool {
	switch strings.ToLower(line) {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "read":
		if err := dash.Notifications.MarkAllRead(ctx); err != nil {
			a.printf("Mark all read failed, changes rolled back: %v\n", err)
		}
	case "reconnect":
		if err := dash.Notifications.Reconnect(); err != nil {
			a.printf("Notifications reconnect: %v\n", err)
		}
		if err := dash.Quote.Reconnect(); err != nil && !errors.Is(err, livesync.ErrNotWatching) {
			a.printf("Quote reconnect: %v\n", err)
		}
	case "status":
		a.printf("Notifications: %s, unread %d\n", dash.Notifications.Status(), dash.Notifications.UnreadCount())
		if t := dash.Quote.Ticker(); t != "" {
			a.printf("Quote %s: %s\n", t, dash.Quote.Status())
		}
	default:
		if err := dash.Quote.Watch(ctx, line); err != nil {
			a.printf("Quote %s: %v\n", utils.NormalizeTicker(line), err)
		}
	}
	return false
}
