package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	connector "github.com/DougAnderson444/ArweaveWalletConnector"
	"github.com/DougAnderson444/ArweaveWalletConnector/event"
	"github.com/DougAnderson444/ArweaveWalletConnector/internal/config"
	"github.com/DougAnderson444/ArweaveWalletConnector/wire"
)

func printHelp() {
	fmt.Printf(`awc %s - Arweave wallet connector

USAGE:
  awc request <method> [params-json]   Connect, send one request, print the reply
  awc listen                           Stay connected, print wallet events as JSON lines
  awc config init|show                 Manage the config file
  awc help                             Show this help

FLAGS (request, listen):
  -w, --wallet <url>     Wallet URL (default: https://arweave.app)
  -t, --timeout <dur>    Request/ready timeout, e.g. 30s, 2m
  --popup                Keep a wallet popup open for the whole session
  --host <kind>          Substrate: chrome (local browser) or socket (wallet dials back)

ENVIRONMENT:
  AWC_WALLET_URL         Wallet URL
  AWC_HOST               chrome | socket
  AWC_TIMEOUT            Request timeout in seconds (default: 60)
  AWC_KEEP_POPUP         Keep the popup open (default: false)
  AWC_HEADLESS           Run Chrome headless (default: true)
  CDP_URL                Attach to a running Chrome instead of launching one
  AWC_CONFIG             Config file path (default: ~/.awc/config.yaml)

Examples:
  awc request connect
  awc request signTransaction '{"format":2,"quantity":"0"}'
  awc --wallet https://arweave.app -t 2m request getPublicKey
  awc listen | jq .
`, version)
}

// applyFlags overlays command-line flags onto cfg and returns the
// positional arguments in order.
func applyFlags(cfg *config.RuntimeConfig, args []string) []string {
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--wallet", "-w":
			if i+1 < len(args) {
				i++
				cfg.WalletURL = args[i]
			}
		case "--timeout", "-t":
			if i+1 < len(args) {
				i++
				d, err := time.ParseDuration(args[i])
				if err != nil {
					fatal("bad --timeout %q: %v", args[i], err)
				}
				cfg.RequestTimeout = d
			}
		case "--popup":
			cfg.KeepPopup = true
		case "--host":
			if i+1 < len(args) {
				i++
				cfg.HostKind = args[i]
			}
		default:
			rest = append(rest, args[i])
		}
	}
	return rest
}

// parseParams treats the argument as JSON when it is valid JSON and as a
// plain string otherwise, so `awc request connect` and structured params
// both work.
func parseParams(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}

// --- request ---

func runRequest(cfg *config.RuntimeConfig, args []string) {
	args = applyFlags(cfg, args)
	if len(args) < 1 {
		fatal("Usage: awc request <method> [params-json]")
	}
	method := args[0]
	var params any
	if len(args) > 1 {
		params = parseParams(args[1])
	}

	ctx := context.Background()
	b, cleanup, err := connect(ctx, cfg)
	if err != nil {
		fatal("connect: %v", err)
	}
	setupSignalHandler(func() {
		cleanup()
		os.Exit(130)
	}, func() {})

	call := b.Request(method, params, cfg.RequestTimeout)
	result, err := call.Await(ctx)
	if err != nil {
		var remote *wire.RemoteError
		if errors.As(err, &remote) {
			fmt.Fprintf(os.Stderr, "%s\n", remote.Error())
		} else {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		}
		cleanup()
		os.Exit(1)
	}

	printRaw(result)
	cleanup()
}

// --- listen ---

func runListen(cfg *config.RuntimeConfig, args []string) {
	if rest := applyFlags(cfg, args); len(rest) > 0 {
		fatal("Usage: awc listen")
	}

	ctx := context.Background()
	b, cleanup, err := connect(ctx, cfg)
	if err != nil {
		fatal("connect: %v", err)
	}

	bus := b.Events()
	if bus == nil {
		fatal("no event bus available")
	}
	bus.SubscribeAll(func(e event.Event) { printEvent(e) })

	fmt.Fprintln(os.Stderr, "connected, streaming wallet events (Ctrl-C to stop)")

	done := make(chan struct{})
	setupSignalHandler(func() {
		cleanup()
		close(done)
	}, func() {})
	<-done
}

// printEvent renders one bus event as a single JSON line on stdout.
func printEvent(e event.Event) {
	line := map[string]any{
		"type": e.EventType(),
		"at":   e.Timestamp().Format(time.RFC3339),
	}
	switch ev := e.(type) {
	case connector.MessageEvent:
		line["method"] = ev.Method
		if ev.Params != nil {
			line["params"] = ev.Params
		}
		if ev.Session != nil {
			line["session"] = ev.Session
		}
	case connector.BuiltinEvent:
		if ev.UsePopup != nil {
			line["usePopup"] = *ev.UsePopup
		}
		if ev.KeepPopup != nil {
			line["keepPopup"] = *ev.KeepPopup
		}
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}

// printRaw pretty-prints a JSON reply, falling back to the raw bytes.
func printRaw(raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Println("null")
		return
	}
	var buf bytes.Buffer
	if json.Indent(&buf, raw, "", "  ") == nil {
		fmt.Println(buf.String())
	} else {
		fmt.Println(string(raw))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
