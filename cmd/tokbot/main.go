package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tokbot/internal/app"
	"tokbot/internal/plugin/builtin/alerts"
	"tokbot/internal/plugin/builtin/chatlog"
	"tokbot/internal/plugin/builtin/goals"
	"tokbot/internal/plugin/builtin/streamhealth"
	"tokbot/internal/plugin/builtin/xp"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := app.New(cfgPath)
	a.Register(
		goals.New(),
		xp.New(),
		chatlog.New(),
		alerts.New(),
		streamhealth.New(),
	)

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
