package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/ims/internal/config"
	"github.com/matheus3301/ims/internal/daemon"
	"github.com/matheus3301/ims/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "IMS server address (overrides config)")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if *serverFlag != "" {
		cfg.ServerAddress = *serverFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg, Debug: *debugFlag}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)

	app.Run()
}
