package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/asonix/eventbot/internal/chatgw"
	"github.com/asonix/eventbot/internal/config"
	"github.com/asonix/eventbot/internal/httpapi"
	"github.com/asonix/eventbot/internal/ingress"
	"github.com/asonix/eventbot/internal/linkbroker"
	"github.com/asonix/eventbot/internal/obs"
	"github.com/asonix/eventbot/internal/scheduler"
	"github.com/asonix/eventbot/internal/storegw"
	"github.com/asonix/eventbot/internal/userindex"
	"github.com/asonix/eventbot/internal/version"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var rootCmd = &cobra.Command{
	Use:   "eventbot",
	Short: `A Telegram bot and web form for scheduling and announcing recurring events.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
	RunE: run,
}

func init() {
	viper.SetDefault("prod", false)

	rootCmd.PersistentFlags().Bool("prod", false, "emit JSON logs and run migrations strictly, as in production")
	if err := viper.BindPFlag("prod", rootCmd.PersistentFlags().Lookup("prod")); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("eventbot")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	log := obs.NewLogger(viper.GetBool("prod"))
	log.Info("starting eventbot", "version", version.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.DSN(false))
	if err != nil {
		config.PrintConnectionError(err)
		log.Error("failed to open database", "error", err)
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		config.PrintConnectionError(err)
		log.Error("failed to reach database", "error", err)
		return err
	}

	store := storegw.Open(db, storegw.DialectPostgres, cfg.Workers)
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Error("failed to migrate", "error", err)
		return err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("failed to start telegram bot", "error", err)
		return err
	}

	userIdx := userindex.New(store)
	relations, err := store.AllUserRelations(ctx)
	if err != nil {
		log.Error("failed to warm-start user index", "error", err)
		return err
	}
	warmStart := make([]userindex.Relation, len(relations))
	for i, r := range relations {
		warmStart[i] = userindex.Relation{
			UserID:        r.UserID,
			TelegramID:    r.TelegramID,
			ChatID:        r.ChatID,
			SystemID:      r.SystemID,
			EventsChannel: r.EventsChannel,
		}
	}
	userIdx.WarmStart(warmStart)

	chat := chatgw.New(bot, store, log, 1)
	sched := scheduler.New(store, chat, log)
	broker := linkbroker.New(store, userIdx, cfg.EventURL)
	in := ingress.New(bot, store, userIdx, broker, chat, sched, log)
	form := httpapi.New(broker, sched, chat, log)

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)

	go userIdx.Run(ctx)
	go sched.Run(ctx)
	go sched.RunTicker(ctx, time.Hour)
	go in.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- form.Start(ctx, fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port))
	}()

	log.Info("eventbot started", "addr", cfg.Addr, "port", cfg.Port, "event_url", cfg.EventURL)

	select {
	case <-c:
		log.Info("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("event form server failed", "error", err)
			cancel()
			return err
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
