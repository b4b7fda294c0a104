package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rtvoice/rtvoice/pkg/configutil"
	"github.com/rtvoice/rtvoice/pkg/rtvoice"
	"github.com/rtvoice/rtvoice/pkg/transports"
	"github.com/rtvoice/rtvoice/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := rtvoice.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transport: %v\n", err)
		os.Exit(1)
	}

	engine := rtvoice.NewEngine(rtvoice.EngineOptions{
		Config:    cfg,
		Transport: transport,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		slog.Error("engine start failed", "error", err.Error())
		os.Exit(1)
	}

	<-ctx.Done()
	if err := engine.Stop(); err != nil {
		slog.Error("engine stop", "error", err.Error())
		os.Exit(1)
	}
}

func buildTransport(cfg rtvoice.Config) (transports.MediaTransport, error) {
	switch cfg.Transport.Provider {
	case "twilio":
		var tcfg twilio.Config
		if err := configutil.DecodeSettings(cfg.Transport.Settings, &tcfg); err != nil {
			return nil, err
		}
		return twilio.New(tcfg), nil
	default:
		return nil, fmt.Errorf("transport provider not supported: %s", cfg.Transport.Provider)
	}
}
