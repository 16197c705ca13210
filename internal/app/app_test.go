package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimutuel/internal/config"
	"github.com/alanyoungcy/parimutuel/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func wireForTest(t *testing.T, mutate func(*config.Config)) (*App, *Dependencies) {
	t.Helper()
	cfg := config.Defaults()
	mutate(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	t.Cleanup(cleanup)
	return New(&cfg, testLogger), deps
}

func TestWireOptionalSectionsOff(t *testing.T) {
	_, deps := wireForTest(t, func(c *config.Config) { c.Storage.Driver = "memory" })

	if deps.EventStore == nil || deps.MarketStore == nil || deps.Token == nil {
		t.Fatalf("core dependencies missing: %+v", deps)
	}
	if deps.LockManager != nil || deps.SignalBus != nil || deps.KafkaSink != nil || deps.Archiver != nil || deps.Notifier != nil {
		t.Fatalf("disabled sections were wired: %+v", deps)
	}
	if deps.Leases == nil {
		t.Fatal("no writer lease manager without redis")
	}
	if deps.Token.Symbol() != "USDC" || deps.Token.Decimals() != 6 {
		t.Fatalf("token = %s/%d", deps.Token.Symbol(), deps.Token.Decimals())
	}
}

func TestReplayModeRebuildsFromSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.db")
	a, deps := wireForTest(t, func(c *config.Config) {
		c.Mode = "replay"
		c.SQLite.Path = path
	})
	if _, ok := deps.Pingers["sqlite"]; !ok {
		t.Fatal("sqlite pinger not registered")
	}

	ctx := context.Background()
	m := a.buildMarkets(deps)
	if _, err := m.svc.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.svc.Close()
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	created, err := m.svc.CreateMarket(ctx, creator, "Will the bridge open in June?", 3*time.Hour)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	if err := a.ReplayMode(ctx, deps); err != nil {
		t.Fatalf("ReplayMode: %v", err)
	}

	log, err := deps.EventStore.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(log) != 1 || log[0].Kind != domain.EventMarketCreated {
		t.Fatalf("event log = %+v, want one market_created", log)
	}
	proj, err := deps.MarketStore.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if proj.Question != created.Question || proj.Seq != 1 {
		t.Fatalf("projection = %+v", proj)
	}
}

func TestArchiveModeNeedsS3(t *testing.T) {
	a, deps := wireForTest(t, func(c *config.Config) { c.Storage.Driver = "memory" })
	if err := a.ArchiveMode(context.Background(), deps); err == nil {
		t.Fatal("ArchiveMode without s3 succeeded")
	}
}
