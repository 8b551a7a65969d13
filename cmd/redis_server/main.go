// Package main runs an in-memory Redis for local development of the command relay.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/editorbridge/pkg/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "Listen address")
	flag.Parse()

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*addr); err != nil {
		logger.Log.Fatal().Err(err).Str("addr", *addr).Msg("Failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down MiniRedis...")
}
