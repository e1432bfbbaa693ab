package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vadash/internal/fetch"
	"vadash/internal/httpapi"
	"vadash/internal/integrations/llm"
	slackbot "vadash/internal/integrations/slack"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API, scheduled refreshes and the Slack bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.warmUp(ctx, false); err != nil {
		return err
	}

	var notify fetch.Notify
	var bot *slackbot.Bot
	if rt.cfg.SlackConfigured() {
		var narrator slackbot.Narrator
		if rt.cfg.LLMConfigured() {
			narrator = llm.New(rt.cfg.AnthropicAPIKey, rt.cfg.LLMModel, rt.logger)
		}
		api := slackbot.NewClient(rt.cfg.SlackBotToken, rt.cfg.SlackAppToken)
		bot = slackbot.New(api, rt.controller, rt.refresher, narrator, rt.cfg.SlackChannelID, rt.logger)
		notify = bot.NotifyRefresh
	}

	if err := fetch.StartRefreshScheduler(ctx, rt.cfg.RefreshSchedule, rt.cfg.Location, rt.refresher, notify, rt.logger); err != nil {
		return err
	}

	handler := httpapi.New(rt.controller, rt.db, rt.logger, rt.metrics)
	server := &http.Server{
		Addr:              rt.cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler, rt.registry),
		ReadHeaderTimeout: 5 * time.Second,
		// Streams end when the serve context does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Infof("http listening addr=%s", rt.cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.logger.Infof("http shutting down")
		return server.Shutdown(shutdownCtx)
	})
	if bot != nil {
		g.Go(func() error {
			if err := bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("slack bot: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
