package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mchiang0610/continue/api"
	"github.com/mchiang0610/continue/config"
	"github.com/mchiang0610/continue/log"
	"github.com/mchiang0610/continue/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("invalid environment configuration, using defaults")
		cfg = config.Get()
	}
	log.SetLevel(cfg.LogLevel)

	srv, err := server.New(server.NewConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	// Setup API routes
	api.SetupRoutes(srv.Router(), api.NewHandlers(srv))

	// Start server
	errCh := make(chan error, 1)
	go func() {
		printNetworkAddresses(cfg.Port)
		errCh <- srv.Start()
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
