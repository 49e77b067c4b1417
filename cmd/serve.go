package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/dentalsrs/internal/api"
	"github.com/example/dentalsrs/internal/bot"
	"github.com/example/dentalsrs/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the Telegram bot and the scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		server := api.NewServer(a.study, api.Options{
			Addr:            a.cfg.HTTP.Addr,
			Snapshots:       a.snapshots,
			Store:           a.db,
			Gatherer:        a.registry,
			Logger:          a.log.Named("http"),
			DueLimit:        a.cfg.Study.DueQueueLimit,
			LeaderboardSize: a.cfg.Study.LeaderboardSize,
		})

		var tg *bot.Bot
		if a.cfg.Telegram.Token != "" {
			tg, err = bot.New(&bot.BotConfig{
				Token:           a.cfg.Telegram.Token,
				Debug:           a.cfg.Telegram.Debug,
				SessionSize:     a.cfg.Study.DueQueueLimit,
				LeaderboardSize: a.cfg.Study.LeaderboardSize,
			}, a.study, a.users, a.log.Named("bot"))
			if err != nil {
				return err
			}
		} else {
			a.log.Info("telegram token not set, bot disabled")
		}

		var jobs *scheduler.Scheduler
		if a.cfg.Jobs.Enabled {
			var notifier scheduler.Notifier
			var recipients scheduler.Recipients
			if tg != nil {
				notifier, recipients = tg, a.users
			}
			jobs = scheduler.New(a.aggregator, a.snapshots, recipients, a.cardRepo, notifier, scheduler.Options{
				RecomputeAt:        a.cfg.Jobs.RecomputeAt,
				WeeklyResetAt:      a.cfg.Jobs.WeeklyResetAt,
				ReminderStartHour:  a.cfg.Jobs.ReminderStartHour,
				ReminderEndHour:    a.cfg.Jobs.ReminderEndHour,
				RemindersPerSecond: a.cfg.Jobs.UsersPerSecond,
				Cache:              a.leaderboards,
				Clock:              a.clock,
				Logger:             a.log.Named("scheduler"),
			})
			if err := jobs.Start(); err != nil {
				return err
			}
			defer jobs.Stop()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		if tg != nil {
			g.Go(func() error { return tg.Start(gctx) })
		}

		err = g.Wait()
		a.log.Info("service stopped", zap.Error(err))
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
