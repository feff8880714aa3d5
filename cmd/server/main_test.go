package main

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/config"
	"github.com/lexiqai/spectral-pipeline/internal/observability"
)

func TestRunHealthcheck(t *testing.T) {
	g := observability.NewGRPCHealth(zerolog.Nop(), observability.NamedCheck{
		Name:  "pipeline",
		Check: func(ctx context.Context) (bool, error) { return true, nil },
	})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go g.Serve(lis)
	defer g.Stop()

	_, port, _ := net.SplitHostPort(lis.Addr().String())
	cfg := &config.Config{GRPCPort: port}

	if code := runHealthcheck(cfg); code != 1 {
		t.Errorf("Expected exit 1 before the first refresh, got %d", code)
	}
	g.Refresh(context.Background())
	if code := runHealthcheck(cfg); code != 0 {
		t.Errorf("Expected exit 0 once serving, got %d", code)
	}
}

func TestRunHealthcheck_NothingListening(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(lis.Addr().String())
	lis.Close()

	if code := runHealthcheck(&config.Config{GRPCPort: port}); code != 1 {
		t.Errorf("Expected exit 1 with no server, got %d", code)
	}
}
