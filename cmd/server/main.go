// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Wh0mever/Moonward-Odyssey/internal/config"
	"github.com/Wh0mever/Moonward-Odyssey/internal/handlers"
)

var (
	flagAddr    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "moonward-server",
	Short: "Moonward Odyssey multiplayer session server",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (defaults to :$PORT)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	if flagVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()
	addr := flagAddr
	if addr == "" {
		addr = ":" + cfg.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gs := handlers.NewGameServer(cfg, logger)
	gs.Registry.StartSweeper(ctx)

	server := &http.Server{
		Handler:      handlers.NewRouter(logger, gs),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
