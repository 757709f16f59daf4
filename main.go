package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/sherlockcombs/internal/bot"
	"github.com/raine/sherlockcombs/internal/cache"
	"github.com/raine/sherlockcombs/internal/config"
	"github.com/raine/sherlockcombs/internal/llm"
	"github.com/raine/sherlockcombs/internal/overlay"
	"github.com/raine/sherlockcombs/internal/pipeline"
	"github.com/raine/sherlockcombs/internal/shopping"
	"github.com/raine/sherlockcombs/internal/web"
)

const logFileName = "sherlockcombs.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Try to load existing .env file
	config.LoadEnvFile()

	// Check if required config is missing
	if missing := config.Missing(); len(missing) > 0 {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				waitOnWindows()
				os.Exit(1)
			}
		} else {
			// Non-interactive (systemd, k8s, etc.) - fail with clear error
			fatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	// JOURNAL_STREAM is set by systemd when running as a service.
	// Skip file logging under systemd (journald handles it).
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		// Local development: log to both stderr and file
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	cfg, err := config.Load()
	if err != nil {
		fatalWithWait("invalid configuration: %v", err)
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shop := shopping.NewClient(shopping.ClientOpts{BaseURL: cfg.ShopEndpoint, Timeout: cfg.FetchTimeout})
	checkBackend(ctx, shop)

	downloader := shopping.NewImageDownloader().
		WithTimeout(cfg.FetchTimeout).
		WithMaxSize(cfg.MaxImageBytes)

	analyzer, err := newAnalyzer(ctx, cfg, shop)
	if err != nil {
		fatalWithWait("failed to initialize analyzer: %v", err)
	}

	pipelineOpts := pipeline.Options{MaxOffers: cfg.MaxOffers, ExcludedItems: cfg.ExcludedItems}
	overlayOpts := overlay.Options{DismissAfter: cfg.DismissAfter, StatusInterval: cfg.StatusInterval}

	server := web.NewServer(web.Deps{
		Images:   downloader,
		Analyzer: analyzer,
		Shopper:  shop,
		Pages:    downloader,
		Health:   shop,
	}, web.Options{Pipeline: pipelineOpts, Overlay: overlayOpts})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx, cfg.ListenAddr)
	})

	if cfg.BotEnabled() {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			fatalWithWait("failed to initialize telegram bot: %v", err)
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

		// Register bot commands for Telegram's command menu
		bot.RegisterCommands(tg)

		fetcher := bot.NewFileFetcher(tg, downloader)
		b := bot.NewBot(tg, func() overlay.Runner {
			return pipeline.New(fetcher, analyzer, shop, cache.New(), pipelineOpts)
		}, cfg.AdminID)
		b.SetPageFetcher(downloader)
		b.SetOverlayOptions(overlayOpts)

		g.Go(func() error {
			defer b.Shutdown()
			return runBot(ctx, tg, b)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// newAnalyzer returns the configured image analyzer. The endpoint analyzer
// is the shopping client itself.
func newAnalyzer(ctx context.Context, cfg *config.Config, shop *shopping.Client) (pipeline.Analyzer, error) {
	if cfg.Analyzer != config.AnalyzerGemini {
		log.Info().Str("endpoint", shop.BaseURL()).Msg("using endpoint image analyzer")
		return shop, nil
	}

	vocab := llm.LoadVocabulary(ctx, shop)
	gemini, err := llm.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, vocab)
	if err != nil {
		return nil, err
	}
	analyzer := llm.NewCachedAnalyzer(gemini)
	log.Info().
		Bool("gemini", llm.GetGeminiAnalyzer(analyzer) != nil).
		Int("items", len(vocab.Items)).
		Msg("gemini image analyzer initialized with analysis caching")
	return analyzer, nil
}

// checkBackend logs the state of the analysis backend. The service starts
// either way; requests fail per image until the backend is up.
func checkBackend(ctx context.Context, shop *shopping.Client) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := shop.Health(ctx)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", shop.BaseURL()).Msg("analysis backend is not reachable")
		return
	}
	if !health.OK() {
		log.Warn().Str("status", health.Status).Msg("analysis backend is not healthy")
		return
	}
	log.Info().
		Str("endpoint", shop.BaseURL()).
		Str("fashionModel", health.FashionModel).
		Str("captionModel", health.CaptionModel).
		Msg("analysis backend healthy")
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
