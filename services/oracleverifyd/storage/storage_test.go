package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"oraclecheck/deployments"
	"oraclecheck/oracle"
)

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func deployment(oracleAddr string, block uint64, quoteDecimals uint8) deployments.Deployment {
	cfg := oracle.Configuration{
		BaseFeed1:          oracle.FeedAt(common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")),
		BaseTokenDecimals:  18,
		QuoteTokenDecimals: quoteDecimals,
	}
	return deployments.Deployment{
		ChainID:     1,
		Oracle:      common.HexToAddress(oracleAddr),
		Caller:      common.HexToAddress("0xca11e4"),
		TxHash:      common.HexToHash(oracleAddr),
		BlockNumber: block,
		Config:      cfg,
		Fingerprint: deployments.FingerprintOf(cfg),
	}
}

func TestDeploymentsRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := store.Cursor(ctx, 1); err != nil || ok {
		t.Fatalf("expected no cursor, got ok=%v err=%v", ok, err)
	}
	batch := []deployments.Deployment{deployment("0x02", 20, 6), deployment("0x01", 10, 8)}
	if err := store.SaveDeployments(ctx, 1, batch, 21); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Re-saving the same oracle is a no-op.
	if err := store.SaveDeployments(ctx, 1, batch[:1], 30); err != nil {
		t.Fatalf("save again: %v", err)
	}
	cursor, ok, err := store.Cursor(ctx, 1)
	if err != nil || !ok || cursor != 30 {
		t.Fatalf("unexpected cursor %d ok=%v err=%v", cursor, ok, err)
	}

	all, err := store.Deployments(ctx, 1)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if len(all) != 2 || all[0].BlockNumber != 10 || all[1].Oracle != common.HexToAddress("0x02") {
		t.Fatalf("unexpected deployments %+v", all)
	}
	if !all[1].Config.SameDeployment(batch[0].Config) {
		t.Fatalf("configuration did not survive storage")
	}

	matches, err := store.DeploymentsByFingerprint(ctx, 1, deployments.FingerprintOf(batch[1].Config))
	if err != nil {
		t.Fatalf("by fingerprint: %v", err)
	}
	if len(matches) != 1 || matches[0].Oracle != common.HexToAddress("0x01") {
		t.Fatalf("unexpected matches %+v", matches)
	}
	other, err := store.Deployments(ctx, 8453)
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no base deployments, got %d err=%v", len(other), err)
	}
}

func TestEmptyBatchAdvancesCursor(t *testing.T) {
	store := openTestDB(t)
	var _ deployments.Store = store
	if err := store.SaveDeployments(context.Background(), 1, nil, 99); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	cursor, ok, err := store.Cursor(context.Background(), 1)
	if err != nil || !ok || cursor != 99 {
		t.Fatalf("cursor must advance on empty batches: %d %v %v", cursor, ok, err)
	}
}

func TestRunsNewestFirst(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"run-a", "run-b"} {
		run := Run{
			ID:         id,
			SessionID:  "session",
			ChainID:    1,
			Collateral: "WETH",
			Loan:       "USDC",
			Verdicts:   map[string]string{"route": "verified"},
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}
	runs, err := store.RecentRuns(ctx, "session", 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].Verdicts["route"] != "verified" {
		t.Fatalf("verdicts not decoded: %+v", runs[0].Verdicts)
	}
}

func TestFileDSN(t *testing.T) {
	if _, err := FileDSN("  "); err != ErrPathRequired {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	dir := t.TempDir()
	dsn, err := FileDSN(filepath.Join(dir, "verify.db"))
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	_ = store.Close()
}
