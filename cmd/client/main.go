package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/garagekeeper/internal/buildinfo"
	"github.com/dmitrijs2005/garagekeeper/internal/client/cli"
	"github.com/dmitrijs2005/garagekeeper/internal/client/config"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"

	_ "modernc.org/sqlite"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	// The REPL owns the terminal, so logs go to a file.
	logger, closer := logging.NewFileLogger(logging.RotatingFile{
		Path:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}, slog.LevelInfo)
	defer closer.Close()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
