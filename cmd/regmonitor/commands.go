package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/alert"
	"github.com/roshinpv/regulateai/pkg/update"
)

func runServe(args []string, _, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, "")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close(context.Background())

	if err := a.scheduler.Start(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	<-ctx.Done()
	slog.Info("shutting down")
	a.scheduler.Stop()
	return 0
}

func runOnce(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("once", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	only := cmd.String("agency", "", "Limit the cycle to one agency id")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *only)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close(context.Background())

	report, err := a.scheduler.RunCycleOnce(ctx)
	if report != nil {
		if werr := writeJSON(stdout, report); werr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", werr)
			return 1
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type agencyView struct {
	agency.AgencyConfig
	APIKeySet  bool                   `json:"api_key_set"`
	Collectors []update.CollectorKind `json:"collectors"`
	Problems   []string               `json:"problems,omitempty"`
}

func runAgencies(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("agencies", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out := make([]agencyView, 0, reg.Len())
	for _, ac := range reg.All() {
		kinds, problems := agency.Variants(ac)
		v := agencyView{AgencyConfig: ac, APIKeySet: ac.APIKey != "", Collectors: kinds}
		if v.Collectors == nil {
			v.Collectors = []update.CollectorKind{}
		}
		for _, p := range problems {
			v.Problems = append(v.Problems, p.Error())
		}
		out = append(out, v)
	}
	if err := writeJSON(stdout, out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runPending(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("pending", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	statusFlag := cmd.String("status", string(alert.StatusNew), "Alert status to list")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	status, err := alert.ParseStatus(*statusFlag)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	alerts, err := alert.NewManager(store).ListAlerts(ctx, status)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, alerts); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
