package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maauso/eogum-api/internal/account"
	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/job"
	"github.com/maauso/eogum-api/internal/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "data", "eogum.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenReusesExistingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eogum.db")
	ctx := context.Background()

	store, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := store.AddAccount(ctx, "acct", "a@example.com"); err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}
	_ = store.Close()

	store, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	email, err := store.ContactEmail(ctx, "acct")
	if err != nil {
		t.Fatalf("ContactEmail failed: %v", err)
	}
	if email != "a@example.com" {
		t.Fatalf("expected persisted email, got %q", email)
	}
}

func TestAccounts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.ContactEmail(ctx, "missing"); !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if err := store.AddAccount(ctx, "acct", "old@example.com"); err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}
	if err := store.AddAccount(ctx, "acct", "new@example.com"); err != nil {
		t.Fatalf("AddAccount update failed: %v", err)
	}
	email, err := store.ContactEmail(ctx, "acct")
	if err != nil || email != "new@example.com" {
		t.Fatalf("expected updated email, got %q (%v)", email, err)
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acct" {
		t.Fatalf("unexpected accounts: %#v", accounts)
	}
}

func TestCreditRowUpdates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.GetAccount(ctx, "acct"); !errors.Is(err, credit.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.TryHold(ctx, "acct", 10); !errors.Is(err, credit.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound from TryHold, got %v", err)
	}

	if err := store.AddBalance(ctx, "acct", 100); err != nil {
		t.Fatalf("AddBalance failed: %v", err)
	}
	if err := store.AddBalance(ctx, "acct", 20); err != nil {
		t.Fatalf("AddBalance failed: %v", err)
	}

	ok, err := store.TryHold(ctx, "acct", 90)
	if err != nil || !ok {
		t.Fatalf("expected hold to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.TryHold(ctx, "acct", 31)
	if err != nil || ok {
		t.Fatalf("expected hold beyond available to be refused, got ok=%v err=%v", ok, err)
	}

	ok, err = store.Settle(ctx, "acct", 60)
	if err != nil || !ok {
		t.Fatalf("expected settle to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.Settle(ctx, "acct", 31)
	if err != nil || ok {
		t.Fatalf("expected settle beyond held to be refused, got ok=%v err=%v", ok, err)
	}

	acct, err := store.GetAccount(ctx, "acct")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.BalanceSeconds != 60 || acct.HeldSeconds != 30 {
		t.Fatalf("expected balance 60 held 30, got %d/%d", acct.BalanceSeconds, acct.HeldSeconds)
	}

	over, err := store.ReleaseHold(ctx, "acct", 20)
	if err != nil || over {
		t.Fatalf("expected exact release, got over=%v err=%v", over, err)
	}
	over, err = store.ReleaseHold(ctx, "acct", 50)
	if err != nil || !over {
		t.Fatalf("expected floored release, got over=%v err=%v", over, err)
	}
	acct, _ = store.GetAccount(ctx, "acct")
	if acct.HeldSeconds != 0 || acct.BalanceSeconds != 60 {
		t.Fatalf("expected held floored at zero, got %d/%d", acct.BalanceSeconds, acct.HeldSeconds)
	}

	if _, err := store.ReleaseHold(ctx, "missing", 5); !errors.Is(err, credit.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound from ReleaseHold, got %v", err)
	}
}

func TestLedgerConcurrentReserveNeverOverdraws(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	ledger := credit.NewLedger(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := ledger.Grant(ctx, "acct", 50, ""); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Reserve(ctx, "acct", 10, "job")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, credit.ErrInsufficientCredit) {
				t.Errorf("unexpected reserve error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected exactly 5 reservations, got %d", succeeded)
	}
	bal, err := ledger.Balance(ctx, "acct")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal.Held != 50 || bal.Available != 0 {
		t.Fatalf("expected held 50 available 0, got %+v", bal)
	}
}

func TestTransactionsNewestFirstWithPaging(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	kinds := []credit.Kind{credit.KindGrant, credit.KindHold, credit.KindUsage}
	for i, kind := range kinds {
		tx := credit.Transaction{
			ID:            string(kind),
			AccountID:     "acct",
			AmountSeconds: i,
			Kind:          kind,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if kind != credit.KindGrant {
			tx.JobID = "job-1"
		}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			t.Fatalf("AppendTransaction failed: %v", err)
		}
	}
	if err := store.AppendTransaction(ctx, credit.Transaction{
		ID: "other", AccountID: "other", Kind: credit.KindGrant, CreatedAt: base,
	}); err != nil {
		t.Fatalf("AppendTransaction failed: %v", err)
	}

	all, err := store.ListTransactions(ctx, "acct", 0, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(all) != 3 || all[0].Kind != credit.KindUsage || all[2].Kind != credit.KindGrant {
		t.Fatalf("expected newest first, got %#v", all)
	}
	if all[0].JobID != "job-1" || all[2].JobID != "" {
		t.Fatalf("unexpected job ids: %q %q", all[0].JobID, all[2].JobID)
	}
	if !all[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("unexpected created_at: %v", all[0].CreatedAt)
	}

	page, err := store.ListTransactions(ctx, "acct", 1, 1)
	if err != nil {
		t.Fatalf("ListTransactions page failed: %v", err)
	}
	if len(page) != 1 || page[0].Kind != credit.KindHold {
		t.Fatalf("expected the middle record, got %#v", page)
	}
}

func newProject(accountID string, created time.Time) *job.Project {
	p := job.NewProject(accountID, "vlog", job.CutSubtitle)
	p.SourceKey = "sources/" + p.ID + ".mp4"
	p.SourceFilename = "vlog.mp4"
	p.SourceSizeBytes = 1024
	p.SourceDurationSeconds = 60
	p.Settings = map[string]any{"silence_threshold": 0.5}
	p.CreatedAt = created
	p.UpdatedAt = created
	return p
}

func TestProjectsRoundTripAndOrdering(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := newProject("acct", base)
	newer := newProject("acct", base.Add(time.Minute))
	foreign := newProject("other", base.Add(2*time.Minute))
	for _, p := range []*job.Project{newer, older, foreign} {
		if err := store.SaveProject(ctx, p); err != nil {
			t.Fatalf("SaveProject failed: %v", err)
		}
	}

	got, err := store.FindProject(ctx, older.ID)
	if err != nil {
		t.Fatalf("FindProject failed: %v", err)
	}
	if got.Name != "vlog" || got.CutType != job.CutSubtitle || got.SourceDurationSeconds != 60 ||
		got.SourceFilename != "vlog.mp4" || got.Status != job.ProjectQueued {
		t.Fatalf("unexpected project: %#v", got)
	}
	if got.Settings["silence_threshold"] != 0.5 {
		t.Fatalf("expected settings to round-trip, got %#v", got.Settings)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("expected created_at %v, got %v", base, got.CreatedAt)
	}

	if _, err := store.FindProject(ctx, "missing"); !errors.Is(err, job.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}

	byAccount, err := store.ListProjectsByAccount(ctx, "acct")
	if err != nil {
		t.Fatalf("ListProjectsByAccount failed: %v", err)
	}
	if len(byAccount) != 2 || byAccount[0].ID != newer.ID || byAccount[1].ID != older.ID {
		t.Fatalf("expected newest first for account, got %d projects", len(byAccount))
	}

	if err := newer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := store.SaveProject(ctx, newer); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	active, err := store.ListProjectsByStatus(ctx, job.ProjectQueued, job.ProjectProcessing)
	if err != nil {
		t.Fatalf("ListProjectsByStatus failed: %v", err)
	}
	if len(active) != 3 || active[0].ID != older.ID || active[1].ID != newer.ID || active[2].ID != foreign.ID {
		t.Fatalf("expected oldest first across statuses, got %d projects", len(active))
	}
	none, err := store.ListProjectsByStatus(ctx)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no projects for empty status list, got %d (%v)", len(none), err)
	}
}

func TestSaveProjectKeepsJobsAndDeleteCascades(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	p := newProject("acct", time.Now().UTC())
	if err := store.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	j := job.New(p)
	if err := store.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}
	if err := store.SaveReport(ctx, &job.Report{ProjectID: p.ID, CutPercentage: 12.5, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := store.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject update failed: %v", err)
	}
	jobs, err := store.ListJobsByProject(ctx, p.ID)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected the job to survive a project update, got %d (%v)", len(jobs), err)
	}

	if err := store.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if _, err := store.FindJob(ctx, j.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("expected job to cascade, got %v", err)
	}
	if _, err := store.FindReport(ctx, p.ID); !errors.Is(err, job.ErrReportNotFound) {
		t.Fatalf("expected report to cascade, got %v", err)
	}
	if err := store.DeleteProject(ctx, p.ID); !errors.Is(err, job.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound on second delete, got %v", err)
	}
}

func TestJobsRoundTripAndLatestCompleted(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	p := newProject("acct", time.Now().UTC())
	if err := store.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	if _, err := store.LatestCompletedJob(ctx, p.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	first := job.New(p)
	first.UpdateProgress(30)
	if err := first.Fail("transcribe failed"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := store.SaveJob(ctx, first); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	second := job.New(p)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	if err := second.Complete(map[string]string{"edit_timeline": "results/" + p.ID + "/source.fcpxml"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := store.SaveJob(ctx, second); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := store.FindJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindJob failed: %v", err)
	}
	if got.Status != job.StatusFailed || got.Progress != 30 || got.ErrorMessage != "transcribe failed" || got.CompletedAt.IsZero() {
		t.Fatalf("unexpected failed job: %#v", got)
	}

	latest, err := store.LatestCompletedJob(ctx, p.ID)
	if err != nil {
		t.Fatalf("LatestCompletedJob failed: %v", err)
	}
	if latest.ID != second.ID || latest.Progress != 100 {
		t.Fatalf("expected the completed job, got %#v", latest)
	}
	if latest.ResultKeys["edit_timeline"] != "results/"+p.ID+"/source.fcpxml" {
		t.Fatalf("unexpected result keys: %#v", latest.ResultKeys)
	}

	jobs, err := store.ListJobsByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListJobsByProject failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != first.ID {
		t.Fatalf("expected oldest first, got %d jobs", len(jobs))
	}
}

func TestReportUpsert(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	p := newProject("acct", time.Now().UTC())
	if err := store.SaveProject(ctx, p); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	for _, pct := range []float64{10, 23.5} {
		rep := &job.Report{
			ProjectID:            p.ID,
			TotalDurationSeconds: 60,
			CutDurationSeconds:   int(60 * pct / 100),
			CutPercentage:        pct,
			Markdown:             "# report",
			CreatedAt:            time.Now(),
		}
		if err := store.SaveReport(ctx, rep); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	rep, err := store.FindReport(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindReport failed: %v", err)
	}
	if rep.CutPercentage != 23.5 || rep.CutDurationSeconds != 14 || rep.Markdown != "# report" {
		t.Fatalf("expected the later report, got %#v", rep)
	}
}
