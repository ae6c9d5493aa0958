// Command fcgid-serve is a thin CLI bootstrap around fcgid.Server. The
// request handler body is out of scope for this module (spec.md §1); this
// command wires up a minimal echo handler purely so the server has
// something to dispatch to, grounded on the teacher's cmd/hey-fpm/main.go
// flag layout and signal handling.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/arashilabs/fcgid"
	"github.com/arashilabs/fcgid/fcgidstatus"
	"github.com/arashilabs/fcgid/internal/buildinfo"
)

func main() {
	app := &cli.Command{
		Name:    "fcgid-serve",
		Usage:   "FastCGI responder server",
		Version: buildinfo.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML config file (when set, the other configuration flags are ignored)",
			},
			&cli.StringFlag{
				Name:  "bind-address",
				Usage: "interface to listen on",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "TCP port to listen on",
				Value: 9000,
			},
			&cli.IntFlag{
				Name:  "max-concurrent-requests",
				Usage: "number of pre-allocated connection slots",
				Value: 16,
			},
			&cli.DurationFlag{
				Name:  "connection-timeout",
				Usage: "per-operation read/write timeout on accepted connections",
				Value: fcgid.DefaultConnectionTimeout,
			},
			&cli.IntFlag{
				Name:  "max-header-size",
				Usage: "maximum bytes of FCGI_PARAMS content accepted per request",
				Value: fcgid.DefaultMaxHeaderSize,
			},
			&cli.BoolFlag{
				Name:  "test",
				Usage: "validate configuration and exit",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("fcgid-serve: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Handler = echoHandler

	if cmd.Bool("test") {
		if _, err := fcgid.NewServer(*cfg, nil); err != nil {
			return err
		}
		fmt.Println("configuration test successful")
		return nil
	}

	srv, err := fcgid.NewServer(*cfg, nil)
	if err != nil {
		return fmt.Errorf("fcgid-serve: %w", err)
	}

	startedAt := timeNow()
	statusHandler := fcgidstatus.NewHandler(srv, startedAt)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGUSR1)

	for {
		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("fcgid-serve: %w", err)
			}
			return nil
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				fmt.Println(statusHandler.GetStatusText())
			default:
				slog.Info("shutting down", slog.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				err := srv.Shutdown(shutdownCtx)
				cancel()
				return err
			}
		}
	}
}

// timeNow is split out from time.Now only so the status handler's start
// time is computed exactly once at startup, not on every call.
func timeNow() time.Time { return time.Now() }

func loadConfig(cmd *cli.Command) (*fcgid.Config, error) {
	if path := cmd.String("config"); path != "" {
		return fcgid.LoadConfigFile(path)
	}
	return &fcgid.Config{
		BindAddress:           cmd.String("bind-address"),
		Port:                  cmd.Int("port"),
		MaxConcurrentRequests: cmd.Int("max-concurrent-requests"),
		ConnectionTimeout:     cmd.Duration("connection-timeout"),
		MaxHeaderSize:         cmd.Int("max-header-size"),
	}, nil
}
