package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/patchline/patchline/internal/config"
	"github.com/patchline/patchline/internal/confirm"
	"github.com/patchline/patchline/internal/engine"
	"github.com/patchline/patchline/internal/executor"
	"github.com/patchline/patchline/internal/github"
	"github.com/patchline/patchline/internal/githubbot"
	"github.com/patchline/patchline/internal/slackbot"
	"github.com/patchline/patchline/internal/telemetry"
	"github.com/patchline/patchline/internal/workspace"
)

// sweepInterval is how often expired pending confirmations are evicted.
const sweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack bot and GitHub webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "patchline", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tokens, tokenWatch, err := buildTokenSource(cfg)
	if err != nil {
		return err
	}

	exec, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		WriteEnabled:   cfg.WriteMode.Enabled,
		Policy:         cfg.WritePolicy,
		ConfirmTTL:     cfg.ConfirmTTL(),
		ExecutorPrompt: cfg.Executor.Prompt,
	},
		confirm.New(),
		exec,
		&workspace.Provider{Tokens: tokens, BaseURL: cfg.GitHub.APIBaseURL},
		&workspace.Preflight{Tokens: tokens, BaseURL: cfg.GitHub.APIBaseURL, BotLogin: cfg.GitHub.BotLogin},
	)

	g, ctx := errgroup.WithContext(ctx)

	webhookSecret := v.GetString("webhook_secret")
	if webhookSecret == "" {
		webhookSecret = cfg.GitHub.WebhookSecret
	}
	webhookServer := githubbot.NewServer(githubbot.ServerConfig{
		Handler: eng,
		Clients: func(installationID int64, owner, repo string) githubbot.CommentAPI {
			c := github.NewClient(tokens.Get(), owner, repo)
			if cfg.GitHub.APIBaseURL != "" {
				c = c.WithBaseURL(cfg.GitHub.APIBaseURL)
			}
			return c
		},
		Secret:   []byte(webhookSecret),
		BotLogin: cfg.GitHub.BotLogin,
	})
	g.Go(func() error {
		log.Printf("serve: webhook server listening on %s", cfg.GitHub.WebhookListen)
		errCh := make(chan error, 1)
		go func() { errCh <- webhookServer.Start(cfg.GitHub.WebhookListen) }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return webhookServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("webhook server: %w", err)
		}
	})

	if bot, err := buildSlackBot(cfg, eng); err != nil {
		return err
	} else if bot != nil {
		g.Go(func() error { return bot.Run(ctx) })
	} else {
		log.Printf("serve: no Slack tokens configured, Slack front-end disabled")
	}

	if tokenWatch != nil {
		g.Go(func() error { return tokenWatch(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				if n := eng.Gate().Sweep(now); n > 0 {
					log.Printf("serve: expired %d pending confirmations", n)
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildTokenSource prefers the env token for dev, the watched token file for
// deployments with rotation.
func buildTokenSource(cfg *config.Config) (workspace.TokenSource, func(context.Context) error, error) {
	if token := v.GetString("github_token"); token != "" {
		return workspace.StaticToken(token), nil, nil
	}
	if cfg.GitHub.TokenFile == "" {
		return nil, nil, fmt.Errorf("no GitHub token: set PATCHLINE_GITHUB_TOKEN or github.token_file")
	}
	tf, err := config.NewTokenFile(cfg.GitHub.TokenFile)
	if err != nil {
		return nil, nil, err
	}
	return tf, tf.Watch, nil
}

func buildExecutor(cfg *config.Config) (executor.Executor, error) {
	if len(cfg.Executor.Command) > 0 {
		return executor.NewCommandExecutor(cfg.Executor.Command)
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("no executor: set executor.command or ANTHROPIC_API_KEY")
	}
	return executor.NewAnthropicExecutor(apiKey, cfg.Executor.Model)
}

func buildSlackBot(cfg *config.Config, eng *engine.Engine) (*slackbot.Bot, error) {
	botToken := v.GetString("slack_bot_token")
	if botToken == "" {
		botToken = cfg.Slack.BotToken
	}
	appToken := v.GetString("slack_app_token")
	if appToken == "" {
		appToken = cfg.Slack.AppToken
	}
	if botToken == "" && appToken == "" {
		return nil, nil
	}

	channels := make(map[string]slackbot.RepoRef, len(cfg.Slack.Channels))
	for channel, ref := range cfg.Slack.Channels {
		owner, name := config.SplitRepo(ref.Repo)
		channels[channel] = slackbot.RepoRef{
			Owner:          owner,
			Repo:           name,
			InstallationID: ref.InstallationID,
		}
	}

	return slackbot.NewBot(slackbot.BotConfig{
		BotToken: botToken,
		AppToken: appToken,
		Channels: channels,
		Debug:    verbose,
	}, eng)
}
