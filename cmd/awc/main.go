package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	connector "github.com/DougAnderson444/ArweaveWalletConnector"
	"github.com/DougAnderson444/ArweaveWalletConnector/host"
	"github.com/DougAnderson444/ArweaveWalletConnector/host/chromehost"
	"github.com/DougAnderson444/ArweaveWalletConnector/host/sockethost"
	"github.com/DougAnderson444/ArweaveWalletConnector/internal/config"
)

var version = "dev"

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("awc %s\n", version)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "config" {
		config.HandleConfigCommand(cfg)
		os.Exit(0)
	}

	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "--help" || os.Args[1] == "-h" {
		printHelp()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "request", "req":
		runRequest(cfg, os.Args[2:])
	case "listen":
		runListen(cfg, os.Args[2:])
	default:
		fatal("unknown command %q (try: awc help)", os.Args[1])
	}
}

// buildHost constructs and starts the substrate named by cfg.HostKind.
// The returned stop function tears it down again.
func buildHost(ctx context.Context, cfg *config.RuntimeConfig) (host.Host, func(), error) {
	switch cfg.HostKind {
	case config.HostChrome:
		ch := chromehost.New(chromehost.Config{
			CdpURL:       cfg.CdpURL,
			ChromeBinary: cfg.ChromeBinary,
			ProfileDir:   cfg.ProfileDir,
			ExtraFlags:   cfg.ChromeExtraFlags,
			Headless:     cfg.Headless,
			PopupWidth:   cfg.PopupWidth,
			PopupHeight:  cfg.PopupHeight,
		})
		if err := ch.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("start chrome host: %w", err)
		}
		return ch, ch.Stop, nil
	case config.HostSocket:
		sh := sockethost.New(sockethost.Config{Addr: cfg.ListenAddr()})
		if err := sh.Start(); err != nil {
			return nil, nil, fmt.Errorf("start socket host: %w", err)
		}
		return sh, sh.Stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown host kind %q (want %q or %q)", cfg.HostKind, config.HostChrome, config.HostSocket)
	}
}

// connect brings up the host substrate, dials the wallet, and waits for
// it to announce readiness. The returned cleanup is idempotent.
func connect(ctx context.Context, cfg *config.RuntimeConfig) (*connector.Bridge, func(), error) {
	loadSession(cfg)

	h, stopHost, err := buildHost(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []connector.Option{
		connector.WithHost(h),
		connector.WithAppInfo(cfg.AppName, cfg.AppLogo),
		connector.WithPopupPollInterval(cfg.PopupPoll),
		connector.WithAutoCloseDelay(cfg.AutoCloseDelay),
	}
	if cfg.Origin != "" {
		opts = append(opts, connector.WithOrigin(cfg.Origin))
	}
	if cfg.Session != "" {
		opts = append(opts, connector.WithSession(cfg.Session))
	}

	b, err := connector.New(ctx, cfg.WalletURL, opts...)
	if err != nil {
		stopHost()
		return nil, nil, err
	}
	cleanup := func() {
		b.Disconnect()
		stopHost()
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	slog.Info("waiting for wallet", "url", cfg.WalletURL, "timeout", cfg.RequestTimeout)
	if err := b.Ready(readyCtx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wallet never became ready: %w", err)
	}

	saveSession(cfg, b.Session())

	if cfg.KeepPopup {
		b.SetKeepPopup(true)
	}
	return b, cleanup, nil
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}
