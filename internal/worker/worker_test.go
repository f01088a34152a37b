package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txcat/internal/amqp"
	"txcat/internal/batch"
	"txcat/internal/core"
	"txcat/internal/log"
)

type fakeStore struct {
	txs      map[string]core.Transaction
	assigned map[string]core.Category
	getErr   error
	lostRace bool
}

func newFakeStore(txs ...core.Transaction) *fakeStore {
	s := &fakeStore{txs: map[string]core.Transaction{}, assigned: map[string]core.Category{}}
	for _, tx := range txs {
		s.txs[tx.TransactionID] = tx
	}
	return s
}

func (s *fakeStore) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	if s.getErr != nil {
		return core.Transaction{}, s.getErr
	}
	tx, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return tx, nil
}

func (s *fakeStore) AssignCategory(ctx context.Context, id string, c core.Category) (bool, error) {
	if s.lostRace {
		return false, nil
	}
	s.assigned[id] = c
	return true, nil
}

type fakeCategorizer struct {
	category core.Category
	err      error
	calls    []string
}

func (f *fakeCategorizer) Categorize(ctx context.Context, d string) (core.Category, error) {
	f.calls = append(f.calls, d)
	return f.category, f.err
}

type fakeProcessor struct {
	report *batch.Report
	err    error
	paths  []string
}

func (f *fakeProcessor) ProcessFile(ctx context.Context, path string) (*batch.Report, error) {
	f.paths = append(f.paths, path)
	return f.report, f.err
}

type fakePublisher struct {
	jobs []amqp.Job
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, job amqp.Job) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

var dining = core.Category{ID: 1, Name: "dining_out"}

func newTestWorker(store *fakeStore, cat *fakeCategorizer, proc *fakeProcessor, pub *fakePublisher) *Worker {
	return New(store, cat, proc, pub, 3, log.Discard())
}

func TestHandle_CategorizeTransaction(t *testing.T) {
	store := newFakeStore(core.Transaction{TransactionID: "TXN1", Description: "Coffee Shop"})
	cat := &fakeCategorizer{category: dining}
	w := newTestWorker(store, cat, &fakeProcessor{}, &fakePublisher{})

	err := w.Handle(context.Background(), amqp.NewCategorizeJob("TXN1", "Coffee Shop", 3))
	require.NoError(t, err)

	assert.Equal(t, []string{"Coffee Shop"}, cat.calls)
	assert.Equal(t, dining, store.assigned["TXN1"])
}

func TestHandle_AlreadyCategorizedIsNoop(t *testing.T) {
	store := newFakeStore(core.Transaction{TransactionID: "TXN1", Description: "Coffee Shop", Category: &dining})
	cat := &fakeCategorizer{category: dining}
	w := newTestWorker(store, cat, &fakeProcessor{}, &fakePublisher{})

	require.NoError(t, w.Handle(context.Background(), amqp.NewCategorizeJob("TXN1", "Coffee Shop", 3)))
	assert.Empty(t, cat.calls)
	assert.Empty(t, store.assigned)
}

func TestHandle_MissingTransactionIsDone(t *testing.T) {
	cat := &fakeCategorizer{category: dining}
	w := newTestWorker(newFakeStore(), cat, &fakeProcessor{}, &fakePublisher{})

	require.NoError(t, w.Handle(context.Background(), amqp.NewCategorizeJob("GHOST", "Coffee Shop", 3)))
	assert.Empty(t, cat.calls)
}

func TestHandle_LostAssignRaceIsDone(t *testing.T) {
	store := newFakeStore(core.Transaction{TransactionID: "TXN1", Description: "Coffee Shop"})
	store.lostRace = true
	w := newTestWorker(store, &fakeCategorizer{category: dining}, &fakeProcessor{}, &fakePublisher{})

	assert.NoError(t, w.Handle(context.Background(), amqp.NewCategorizeJob("TXN1", "Coffee Shop", 3)))
}

func TestHandle_ClassificationFailureIsRetryable(t *testing.T) {
	store := newFakeStore(core.Transaction{TransactionID: "TXN1", Description: "Coffee Shop"})
	cat := &fakeCategorizer{err: core.ErrClassificationFailure}
	w := newTestWorker(store, cat, &fakeProcessor{}, &fakePublisher{})

	err := w.Handle(context.Background(), amqp.NewCategorizeJob("TXN1", "Coffee Shop", 3))
	require.ErrorIs(t, err, core.ErrClassificationFailure)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, amqp.DecisionRetry, amqp.Decide(amqp.NewCategorizeJob("TXN1", "", 3), err))
}

func writeUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte("Transaction ID\n"), 0o644))
	return path
}

func TestHandle_ProcessFile(t *testing.T) {
	t.Run("success deletes file and requeues uncategorized rows", func(t *testing.T) {
		path := writeUpload(t)
		proc := &fakeProcessor{report: &batch.Report{
			Uncategorized: []batch.Pending{{TransactionID: "TXN3", Description: "Unknown Vendor"}},
		}}
		pub := &fakePublisher{}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, pub)

		require.NoError(t, w.Handle(context.Background(), amqp.NewFileJob(path, 3)))

		assert.Equal(t, []string{path}, proc.paths)
		assert.NoFileExists(t, path)
		require.Len(t, pub.jobs, 1)
		assert.Equal(t, amqp.KindCategorizeTransaction, pub.jobs[0].Kind)
		assert.Equal(t, "TXN3", pub.jobs[0].TransactionID)
		assert.Equal(t, "Unknown Vendor", pub.jobs[0].Description)
		assert.Equal(t, 3, pub.jobs[0].Attempts)
	})

	t.Run("missing file is permanent", func(t *testing.T) {
		proc := &fakeProcessor{}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, &fakePublisher{})

		err := w.Handle(context.Background(), amqp.NewFileJob(filepath.Join(t.TempDir(), "gone.csv"), 3))
		require.ErrorIs(t, err, core.ErrFileNotFound)
		assert.True(t, IsPermanent(err))
		assert.Empty(t, proc.paths)
	})

	t.Run("parse failure is permanent and keeps file", func(t *testing.T) {
		path := writeUpload(t)
		proc := &fakeProcessor{err: fmt.Errorf("%w: line 2: bad amount", core.ErrParse)}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, &fakePublisher{})

		err := w.Handle(context.Background(), amqp.NewFileJob(path, 3))
		assert.True(t, IsPermanent(err))
		assert.FileExists(t, path)
	})

	t.Run("empty input is success", func(t *testing.T) {
		path := writeUpload(t)
		proc := &fakeProcessor{err: core.ErrEmptyInput}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, &fakePublisher{})

		assert.NoError(t, w.Handle(context.Background(), amqp.NewFileJob(path, 3)))
	})

	t.Run("other failures are retryable and keep file", func(t *testing.T) {
		path := writeUpload(t)
		proc := &fakeProcessor{err: errors.New("database is locked")}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, &fakePublisher{})

		err := w.Handle(context.Background(), amqp.NewFileJob(path, 3))
		require.Error(t, err)
		assert.False(t, IsPermanent(err))
		assert.FileExists(t, path)
	})

	t.Run("unstored rows keep file aside", func(t *testing.T) {
		path := writeUpload(t)
		locked := errors.New("database is locked")
		proc := &fakeProcessor{report: &batch.Report{
			Results: []batch.GroupResult{
				{Description: "Coffee Shop", Outcome: batch.OutcomeCategorized, Rows: 2, Persisted: 2},
				{Description: "Supermarket", Outcome: batch.OutcomePersistFailed, Rows: 3, Persisted: 1,
					FailedTransactionID: "TXN7", Err: locked},
			},
			Uncategorized: []batch.Pending{{TransactionID: "TXN3", Description: "Unknown Vendor"}},
		}}
		pub := &fakePublisher{}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, pub)

		err := w.Handle(context.Background(), amqp.NewFileJob(path, 3))
		require.ErrorIs(t, err, locked)
		assert.True(t, IsPermanent(err))
		assert.Contains(t, err.Error(), "TXN7")
		assert.NoFileExists(t, path)
		assert.FileExists(t, path+".failed")
		assert.Len(t, pub.jobs, 1)
	})

	t.Run("duplicate rows still delete file", func(t *testing.T) {
		path := writeUpload(t)
		proc := &fakeProcessor{report: &batch.Report{
			Results: []batch.GroupResult{
				{Description: "Coffee Shop", Outcome: batch.OutcomePersistFailed, Rows: 1,
					FailedTransactionID: "TXN1", Err: fmt.Errorf("insert: %w", core.ErrUniqueViolation)},
			},
		}}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, &fakePublisher{})

		require.NoError(t, w.Handle(context.Background(), amqp.NewFileJob(path, 3)))
		assert.NoFileExists(t, path)
		assert.NoFileExists(t, path+".failed")
	})

	t.Run("requeue failure does not fail the job", func(t *testing.T) {
		path := writeUpload(t)
		proc := &fakeProcessor{report: &batch.Report{
			Uncategorized: []batch.Pending{{TransactionID: "TXN3", Description: "X"}},
		}}
		w := newTestWorker(newFakeStore(), &fakeCategorizer{}, proc, &fakePublisher{err: errors.New("broker down")})

		assert.NoError(t, w.Handle(context.Background(), amqp.NewFileJob(path, 3)))
	})
}

func TestHandle_UnknownKindIsPermanent(t *testing.T) {
	w := newTestWorker(newFakeStore(), &fakeCategorizer{}, &fakeProcessor{}, &fakePublisher{})

	err := w.Handle(context.Background(), amqp.Job{Kind: "refund"})
	assert.ErrorIs(t, err, amqp.ErrMalformedJob)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, amqp.DecisionDeadLetter, amqp.Decide(amqp.Job{Attempts: 3, Attempt: 1}, err))
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
