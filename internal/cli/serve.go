package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/inkquest/internal/bot"
	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/excel"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the Telegram front-end until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := openApp(ctx, *envFile, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log
	if cfg.TemplateImportPath != "" {
		if _, err := importTemplates(ctx, a, cfg.TemplateImportPath, ""); err != nil {
			return err
		}
	}
	if !a.client.Enabled() {
		log.Warn("OPENAI_API_KEY is not set, generated tasks are off and scores fall back", "score", cfg.ScoreFallback)
	}

	if err := a.engine.StartScheduler(ctx); err != nil {
		return err
	}
	defer a.engine.Stop()

	if cfg.TelegramToken == "" {
		log.Info("TELEGRAM_BOT_TOKEN is not set, running without the chat front-end")
		<-ctx.Done()
		log.Info("inkquest stopped")
		return nil
	}
	botConfig := bot.DefaultConfig()
	botConfig.Token = cfg.TelegramToken
	botConfig.OwnerID = cfg.TelegramOwnerID
	botConfig.HandlerTimeout = cfg.AITimeout + 30*time.Second
	if botConfig.OwnerID == 0 {
		log.Warn("TELEGRAM_OWNER_ID is not set, anyone can use the bot")
	}
	b, err := bot.Connect(a.engine, botConfig, log.With("component", "bot"))
	if err != nil {
		return err
	}
	log.Info("inkquest started, press Ctrl+C to stop")
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("inkquest stopped")
	return nil
}

func importTemplates(ctx context.Context, a *app, path, sheet string) (*excel.ImportResult, error) {
	res, err := excel.ImportTemplates(ctx, database.NewTemplateRepository(a.db), excel.ImportConfig{
		FilePath:  path,
		SheetName: sheet,
		Now:       a.now,
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("templates imported", "path", path, "created", res.Created,
		"updated", res.Updated, "errors", len(res.Errors))
	for _, e := range res.Errors {
		a.log.Warn("template import row rejected", "error", e)
	}
	return res, nil
}
