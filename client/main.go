package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"lnmsg/client/ui"
	"lnmsg/logging"
	"lnmsg/peer"
)

func main() {
	serverAddr := pflag.String("server", "localhost:5555", "hub address (host:port)")
	name := pflag.String("name", defaultName(), "name shown to the hub")
	downloadDir := pflag.String("download-dir", "downloads", "where received files are saved")
	plain := pflag.Bool("plain", false, "line mode instead of the full-screen window")
	logFile := pflag.String("log-file", "", "write logs to this file")
	grace := pflag.Duration("exit-grace", time.Second, "wait after an exit keyword before closing")
	verbose := pflag.CountP("verbose", "v", "more logging (-v debug, -vv trace)")
	pflag.Parse()

	interactive := !*plain && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))

	var logOut io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	} else if interactive {
		logOut = io.Discard
	}
	logging.Setup(logging.Verbosity(*verbose, "warn"), logOut)

	cfg := peer.Config{
		Addr:        *serverAddr,
		Name:        *name,
		DownloadDir: *downloadDir,
		ExitGrace:   *grace,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interactive {
		if err := ui.NewApp(cfg).Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printer := ui.NewPrinter(os.Stdout)
	client, err := peer.Dial(ctx, cfg, printer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := ui.RunPlain(ctx, client, os.Stdin, printer); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "Client"
}
