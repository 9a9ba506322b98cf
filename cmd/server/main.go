package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/npezzotti/go-chathub/internal/api"
	"github.com/npezzotti/go-chathub/internal/auth"
	"github.com/npezzotti/go-chathub/internal/config"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/server"
	"github.com/npezzotti/go-chathub/internal/stats"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var envFile string

func main() {
	flag.StringVar(&envFile, "env-file", "", "optional .env file to load before reading the environment")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chathub] ", log.LstdFlags)

	os.Exit(run(logger))
}

// run owns every resource it opens so deferred cleanup happens before
// the process exits.
func run(logger *log.Logger) int {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		logger.Println("config:", err)
		return 1
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Println("db open:", err)
		return 1
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if cfg.MigrateOnStart {
		if err := dbConn.Migrate(); err != nil {
			logger.Println("db migrate:", err)
			return 1
		}
		logger.Println("database migrations applied")
	}

	statsUpdater := stats.NewStatsUpdater()
	tokens := auth.NewTokenAuthority(cfg.SigningKey, cfg.TokenExpiration)

	chatServer, err := server.NewChatServer(logger, dbConn, tokens, statsUpdater, server.Options{
		TypingTimeout:  cfg.TypingTimeout,
		SendTimeout:    cfg.SendTimeout,
		SendBufferSize: cfg.SendBufferSize,
		SignalRate:     rate.Limit(cfg.SignalRate),
		SignalBurst:    cfg.SignalBurst,
	})
	if err != nil {
		logger.Println("new chat server:", err)
		return 1
	}

	srv := api.NewGoChatApp(logger, chatServer, dbConn, tokens, statsUpdater.Handler(), cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// HTTP first, then sockets
		httpErr := srv.Shutdown(shutdownCtx)

		logger.Println("shutting down chat server...")
		csErr := chatServer.Shutdown(shutdownCtx)

		return errors.Join(httpErr, csErr)
	})

	if err := g.Wait(); err != nil {
		logger.Println("server:", err)
		return 1
	}

	logger.Println("shutdown complete")
	return 0
}
