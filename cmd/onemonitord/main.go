// Package main provides the onemonitord CLI entrypoint.
//
// Usage:
//
//	onemonitord run [--config <path>] [--one-xmlrpc <url>] [--driver-dir <path>]
//	onemonitord version
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: configuration error
//   - 2: runtime/startup failure
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/onecloudio/onemonitord/config"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/supervisor"
)

const (
	exitSuccess        = 0
	exitConfigError    = 1
	exitRuntimeFailure = 2
)

// version is set at build time via -ldflags; it defaults to "dev" for
// local builds.
var version = "dev"

func main() {
	app := &cli.App{
		Name:  "onemonitord",
		Usage: "host-monitoring daemon for a virtualization cluster manager",
		Commands: []*cli.Command{
			runCommand(),
			versionCommand(),
		},
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitRuntimeFailure)
	}
}

// exitErrHandler unwraps cli.ExitCoder so Action functions can return a
// plain error and still control the process exit code.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitRuntimeFailure)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the monitor coordinator and block until shutdown",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to onemonitord.yaml",
				Value: "/etc/one/onemonitord.yaml",
			},
			&cli.StringFlag{
				Name:  "one-xmlrpc",
				Usage: "override the orchestrator XML-RPC endpoint from the config file",
			},
			&cli.StringFlag{
				Name:  "driver-dir",
				Usage: "override the probe-driver executable directory from the config file",
			},
		},
		Action: runAction,
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version and exit",
		Action: func(c *cli.Context) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("load config: %v", err), exitConfigError)
	}

	if v := c.String("one-xmlrpc"); v != "" {
		cfg.OneXMLRPC = v
	}
	if v := c.String("driver-dir"); v != "" {
		cfg.DriverDir = v
	}

	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "onemonitord"
	}
	logger := log.NewLogger(log.Context{Instance: instance})

	sv, err := supervisor.New(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("build supervisor: %v", err), exitRuntimeFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal", nil)
		cancel()
	}()

	if err := sv.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), exitRuntimeFailure)
	}

	return cli.Exit("", exitSuccess)
}
