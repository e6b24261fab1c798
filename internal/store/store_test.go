package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/ledger/ledgertest"
)

var testSigner = ledgertest.Signer(common.HexToAddress("0x5151515151515151515151515151515151515151"))

// recordingObserver captures commits for assertions.
type recordingObserver struct {
	mu      sync.Mutex
	commits []Commit
	err     error
}

func (o *recordingObserver) Name() string { return "recording" }

func (o *recordingObserver) OnCommit(ctx context.Context, c Commit) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, c)
	return o.err
}

func TestMutateInsertCommits(t *testing.T) {
	l := ledgertest.New()
	obs := &recordingObserver{}
	s := New(l, WithObservers(obs))
	rides := DefaultTables().Rides

	res, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table:     rides,
		Operation: "create_ride",
		Apply:     Insert(codec.Row{"4321", "bob", "Central"}),
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if !res.Written {
		t.Fatal("expected a write")
	}

	if got := l.Blob(ledger.KindRide); got != "4321#bob#Central\n" {
		t.Errorf("blob = %q", got)
	}
	writes := l.Writes()
	if len(writes) != 1 || writes[0].Function != "setRide" || writes[0].From != testSigner.Address() {
		t.Errorf("unexpected writes: %+v", writes)
	}

	if len(obs.commits) != 1 {
		t.Fatalf("expected 1 commit notification, got %d", len(obs.commits))
	}
	c := obs.commits[0]
	if c.PrevVersion != codec.EmptyVersion || c.Version != codec.Checksum("4321#bob#Central\n") {
		t.Errorf("unexpected versions: %s -> %s", c.PrevVersion, c.Version)
	}
	if c.Network != ledgertest.NetworkID || c.Table != "rides" {
		t.Errorf("unexpected commit labels: %s/%s", c.Network, c.Table)
	}
}

func TestUpdateWhereMissLeavesTableIdentical(t *testing.T) {
	l := ledgertest.New()
	original := "4321#bob#Central#0#0#3#2024-01-01#waiting\n\n"
	l.SetBlob(ledger.KindRide, original)
	s := New(l)

	_, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table:     DefaultTables().Rides,
		Operation: "complete_ride",
		Apply: UpdateWhere(
			func(r codec.Row) bool { return r.Field(0) == "9999" },
			func(r codec.Row) (codec.Row, error) {
				r[7] = "completed"
				return r, nil
			},
			ReportNotFound,
		),
	})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if got := l.Blob(ledger.KindRide); got != original {
		t.Errorf("table changed: %q", got)
	}
	if n := len(l.Writes()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestUnchangedRowsSkipWrite(t *testing.T) {
	l := ledgertest.New()
	l.SetBlob(ledger.KindClaim, "1#4321#bob#alice#5#50#0xabc#0#paid\n")
	s := New(l)

	res, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table: DefaultTables().Claims,
		Apply: UpdateWhere(
			func(r codec.Row) bool { return r.Field(1) == "4321" },
			func(r codec.Row) (codec.Row, error) { return r, nil },
			Ignore,
		),
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if res.Written {
		t.Error("identical rows should not be written")
	}
	if n := len(l.Writes()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestExpectedVersionConflict(t *testing.T) {
	l := ledgertest.New()
	l.SetBlob(ledger.KindRating, "alice#bob#5\n")
	s := New(l)
	ratings := DefaultTables().Ratings

	snap, err := s.Read(context.Background(), ratings)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	l.SetBlob(ledger.KindRating, "alice#bob#5\ncarol#bob#4\n")

	_, err = s.Mutate(context.Background(), testSigner, Mutation{
		Table:           ratings,
		ExpectedVersion: snap.Version,
		Apply:           Insert(codec.Row{"dave", "bob", "3"}),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := len(l.Writes()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestExternalWriterDetectedBeforeSubmit(t *testing.T) {
	l := ledgertest.New()
	calls := 0
	l.BeforeCall = func(kind ledger.Kind) {
		calls++
		if calls == 2 {
			l.SetBlob(kind, "99#outsider\n")
		}
	}
	s := New(l)

	_, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table: DefaultTables().Claims,
		Apply: Insert(codec.Row{"1", "4321"}),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := l.Blob(ledger.KindClaim); got != "99#outsider\n" {
		t.Errorf("external write was overwritten: %q", got)
	}
}

func TestSubmitFailureIsSurfaced(t *testing.T) {
	l := ledgertest.New()
	l.RevertSubmit = true
	obs := &recordingObserver{}
	s := New(l, WithObservers(obs))

	_, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table: DefaultTables().Accounts,
		Apply: Insert(codec.Row{"alice"}),
	})
	if !errors.Is(err, ledger.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	if l.Blob(ledger.KindAccount) != "" {
		t.Error("reverted write should not persist")
	}
	if len(obs.commits) != 0 {
		t.Error("observers should not see failed writes")
	}
}

func TestConnectivityErrorAborts(t *testing.T) {
	l := ledgertest.New()
	l.CallErr = fmt.Errorf("%w: connection refused", ledger.ErrConnectivity)
	s := New(l)

	_, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table: DefaultTables().Accounts,
		Apply: Insert(codec.Row{"alice"}),
	})
	if !errors.Is(err, ledger.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
}

func TestObserverErrorDoesNotFailMutation(t *testing.T) {
	l := ledgertest.New()
	obs := &recordingObserver{err: errors.New("archive offline")}
	s := New(l, WithObservers(obs))

	res, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table: DefaultTables().Ratings,
		Apply: Insert(codec.Row{"alice", "bob", "5"}),
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if !res.Written || len(obs.commits) != 1 {
		t.Error("write should succeed and observer should be called")
	}
}

func TestConcurrentMutationsDoNotLoseRows(t *testing.T) {
	l := ledgertest.New()
	s := New(l)
	claims := DefaultTables().Claims

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Mutate(context.Background(), testSigner, Mutation{
				Table: claims,
				Apply: InsertFunc(func(rows []codec.Row) (codec.Row, error) {
					return codec.Row{fmt.Sprint(len(rows) + 1), fmt.Sprint(i)}, nil
				}),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
	}

	rows := codec.DecodeTable(l.Blob(ledger.KindClaim))
	if len(rows) != writers {
		t.Fatalf("expected %d rows, got %d", writers, len(rows))
	}
	seen := make(map[string]bool)
	for _, r := range rows {
		if seen[r.Field(0)] {
			t.Errorf("duplicate ordinal %s", r.Field(0))
		}
		seen[r.Field(0)] = true
	}
}

func TestInsertIfAbsent(t *testing.T) {
	l := ledgertest.New()
	l.SetBlob(ledger.KindAccount, "alice#pw\n")
	s := New(l)
	exists := errors.New("exists")

	_, err := s.Mutate(context.Background(), testSigner, Mutation{
		Table: DefaultTables().Accounts,
		Apply: InsertIfAbsent(func(r codec.Row) bool { return r.Field(0) == "alice" }, codec.Row{"alice", "pw2"}, exists),
	})
	if !errors.Is(err, exists) {
		t.Fatalf("expected exists error, got %v", err)
	}
}

func TestTablesByName(t *testing.T) {
	tables := DefaultTables()
	tbl, ok := tables.ByName("claims")
	if !ok || tbl.Getter != "getPassengers" || tbl.Setter != "setPassengers" {
		t.Errorf("ByName(claims) = %+v, %v", tbl, ok)
	}
	if _, ok := tables.ByName("nope"); ok {
		t.Error("unknown table should not resolve")
	}
}
