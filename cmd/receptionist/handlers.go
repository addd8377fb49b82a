package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harunnryd/uketsuke/pkg/call"
	"github.com/harunnryd/uketsuke/pkg/channel"
	"github.com/harunnryd/uketsuke/pkg/receptionist"
	"github.com/harunnryd/uketsuke/pkg/transports"
)

func loadEngine(path string, debug bool, mutate func(*receptionist.Config), opts receptionist.EngineOptions) (*receptionist.Engine, error) {
	cfg, err := receptionist.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reg := receptionist.NewProviderRegistry()
	registerProviders(reg)
	opts.Config = cfg
	opts.Providers = reg
	eng, err := receptionist.NewEngine(opts)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}

func runServe(ctx context.Context, path string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := loadEngine(path, debug, nil, receptionist.EngineOptions{})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return eng.Run(ctx)
}

func runChat(ctx context.Context, path string, debug bool, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := loadEngine(path, debug, func(cfg *receptionist.Config) {
		cfg.Vendors.STT = receptionist.VendorConfig{Provider: "passthrough"}
		if !debug {
			cfg.LogLevel = "error"
		}
	}, receptionist.EngineOptions{
		WithoutTransport: true,
		Sink:             channel.WriterSink{W: out, Prefix: "受付: "},
	})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := eng.NewCall(ctx, transports.CallMeta{CallSID: "console"}, nil)
	if err != nil {
		return err
	}
	defer orch.Close(context.Background(), call.ReasonStop)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "お客様: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := orch.HandleAudio(ctx, []byte(line)); err != nil {
			if errors.Is(err, call.ErrSessionClosed) {
				fmt.Fprintf(out, "(通話終了: %s)\n", orch.Session().CloseReason())
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}
