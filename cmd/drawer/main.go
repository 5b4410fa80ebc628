// cmd/drawer: line-oriented cash drawer terminal.
// Talks to the cash server over HTTP and, when Redis is reachable, refreshes
// itself when another terminal writes to the same session.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cashdrawer/internal/config"
	"cashdrawer/internal/drawer"
	"cashdrawer/internal/events"
	"cashdrawer/internal/infra"
	"cashdrawer/internal/ledger"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	apiURL := flag.String("api", cfg.CashAPIURL, "cash server base URL")
	token := flag.String("token", cfg.CashAPIToken, "bearer token (see cmd/gentoken)")
	user := flag.String("user", "", "user id for the 'mios' filter")
	pageSize := flag.Int("page-size", ledger.DefaultPageSize, "movements per page")
	watch := flag.Bool("watch", true, "refresh on changes from other terminals (needs REDIS_URL)")
	verbose := flag.BoolP("verbose", "v", false, "debug logging")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level)

	limits, err := cfg.Limits()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid limits")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	con := newConsole(os.Stdin, os.Stdout)
	store := infra.NewCashAPIClient(*apiURL, *token, nil)
	d := drawer.New(store, con, con, drawer.Options{
		Limits:      limits,
		CurrentUser: *user,
		PageSize:    *pageSize,
	})

	if *watch {
		rdb, err := infra.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, live refresh disabled")
		} else {
			defer rdb.Close()
			rec := drawer.NewReconciler(events.NewRedisFeed(rdb), d, cfg.RefreshDebounce())
			defer rec.Stop()
			d.OnChange(func(s drawer.State) {
				if err := rec.Track(ctx, s.Session); err != nil {
					log.Warn().Err(err).Msg("reconciler: subscribe failed")
				}
			})
		}
	}

	if err := d.Load(ctx); err != nil {
		con.Notify(drawer.UserMessage(err), drawer.SeverityError)
	}

	t := &terminal{d: d, con: con, loc: time.Local}
	t.status()
	t.con.printf("Escribí 'ayuda' para ver los comandos.\n")

	// The reader waits for each command to finish since commands may read
	// confirmations from the same input.
	lines, done := make(chan string), make(chan struct{})
	go func() {
		defer close(lines)
		for {
			con.printf("> ")
			line, ok := con.readLine()
			if !ok {
				return
			}
			lines <- line
			<-done
		}
	}()

	for {
		select {
		case <-ctx.Done():
			con.printf("\n")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !t.run(ctx, line) {
				return
			}
			done <- struct{}{}
		}
	}
}
