package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bgqueue/internal/app"
)

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml); empty uses defaults + BGQ_ env")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before BGQ_ overrides")
	flag.Parse()

	// A missing .env is normal; existing variables win over the file.
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Println("warning: env file:", err)
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(context.Background()); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopFatalError
	select {
	case sig := <-sigs:
		reason = app.StopReasonFromSignal(sig)
	case <-a.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	if err := a.Err(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Println("stop:", stopErr)
	}
}
