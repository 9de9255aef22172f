package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"
	"github.com/worq1337/parcer-sub000/internal/testutil"
	"github.com/worq1337/parcer-sub000/internal/timeparse"
)

func testRecord(fingerprint string) *model.Record {
	balance := 200000.0
	return &model.Record{
		ID:          uuid.NewString(),
		DateTime:    time.Date(2025, 4, 6, 10, 30, 0, 0, timeparse.Location()),
		Weekday:     "Вс",
		DateDisplay: "6 апр",
		TimeDisplay: "10:30",
		Operator:    "Korzinka.uz",
		App:         "Uzum Bank",
		Amount:      -50000,
		Balance:     &balance,
		CardLast4:   "1234",
		Type:        "Оплата",
		Currency:    "UZS",
		Source:      model.SourceSMS,
		RawText:     "Spisanie, karta *1234: 50000.00 UZS, Korzinka.uz. Dostupno: 200000.00 UZS",
		AddedVia:    "bot",
		Fingerprint: fingerprint,
		Metadata:    map[string]any{"trace_id": "t-1"},
	}
}

func TestCreateAndGetRecord(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	rec := testRecord("fp-create")
	created, err := store.CreateRecord(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, rec.ID, created.ID)

	got, err := store.GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Operator, got.Operator)
	assert.Equal(t, rec.Amount, got.Amount)
	assert.Equal(t, rec.CardLast4, got.CardLast4)
	assert.Equal(t, model.SourceSMS, got.Source)
	assert.Equal(t, "fp-create", got.Fingerprint)
	require.NotNil(t, got.Balance)
	assert.Equal(t, 200000.0, *got.Balance)
	assert.Equal(t, "t-1", got.Metadata["trace_id"])
	assert.True(t, rec.DateTime.Equal(got.DateTime))
	assert.False(t, got.IsDuplicate)
}

func TestCreateRecordRecoversFingerprintConflict(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	first, err := store.CreateRecord(ctx, testRecord("fp-race"))
	require.NoError(t, err)

	// Same fingerprint, different id: the write must hit the unique index and
	// come back with the first record instead of an error.
	second, err := store.CreateRecord(ctx, testRecord("fp-race"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	records, err := store.GetRecords(ctx, service.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCreateRecordWithoutFingerprint(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	// NULL fingerprints never participate in the unique index.
	a := testRecord("")
	b := testRecord("")
	_, err := store.CreateRecord(ctx, a)
	require.NoError(t, err)
	_, err = store.CreateRecord(ctx, b)
	require.NoError(t, err)

	records, err := store.GetRecords(ctx, service.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFindByFingerprint(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	created, err := store.CreateRecord(ctx, testRecord("fp-find"))
	require.NoError(t, err)

	found, err := store.FindByFingerprint(ctx, "fp-find")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := store.FindByFingerprint(ctx, "fp-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := store.FindByFingerprint(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestFindInWindow(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	created, err := store.CreateRecord(ctx, testRecord("fp-window"))
	require.NoError(t, err)

	at := created.DateTime.Add(2 * time.Minute)
	window := 5 * time.Minute

	t.Run("inside window matches", func(t *testing.T) {
		found, err := store.FindInWindow(ctx, "1234", 50000, at, window)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("absolute amounts compared", func(t *testing.T) {
		found, err := store.FindInWindow(ctx, "1234", -50000, at, window)
		require.NoError(t, err)
		require.NotNil(t, found)
	})

	t.Run("outside window does not match", func(t *testing.T) {
		found, err := store.FindInWindow(ctx, "1234", 50000, created.DateTime.Add(10*time.Minute), window)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("different card does not match", func(t *testing.T) {
		found, err := store.FindInWindow(ctx, "9999", 50000, at, window)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("different amount does not match", func(t *testing.T) {
		found, err := store.FindInWindow(ctx, "1234", 50001, at, window)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("duplicate rows are skipped", func(t *testing.T) {
		other, err := store.CreateRecord(ctx, testRecord("fp-window-dup"))
		require.NoError(t, err)
		require.NoError(t, store.MarkAsDuplicate(ctx, created.ID, other.ID))

		found, err := store.FindInWindow(ctx, "1234", 50000, at, window)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, other.ID, found.ID)
	})
}

func TestMarkAsDuplicate(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	original, err := store.CreateRecord(ctx, testRecord("fp-orig"))
	require.NoError(t, err)
	dup, err := store.CreateRecord(ctx, testRecord("fp-dup"))
	require.NoError(t, err)

	require.NoError(t, store.MarkAsDuplicate(ctx, dup.ID, original.ID))

	got, err := store.GetRecordByID(ctx, dup.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDuplicate)
	assert.Equal(t, original.ID, got.DuplicateOf)

	err = store.MarkAsDuplicate(ctx, "no-such-id", original.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetRecordsFilter(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	a := testRecord("fp-a")
	a.DateTime = time.Date(2025, 4, 1, 9, 0, 0, 0, timeparse.Location())
	a.CardLast4 = "1111"
	b := testRecord("fp-b")
	b.DateTime = time.Date(2025, 4, 2, 9, 0, 0, 0, timeparse.Location())
	b.CardLast4 = "2222"
	b.Type = "Пополнение"

	_, err := store.CreateRecord(ctx, a)
	require.NoError(t, err)
	_, err = store.CreateRecord(ctx, b)
	require.NoError(t, err)

	byCard, err := store.GetRecords(ctx, service.RecordFilter{CardLast4: "1111"})
	require.NoError(t, err)
	require.Len(t, byCard, 1)
	assert.Equal(t, a.ID, byCard[0].ID)

	byType, err := store.GetRecords(ctx, service.RecordFilter{Type: "Пополнение"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, b.ID, byType[0].ID)

	from := time.Date(2025, 4, 2, 0, 0, 0, 0, timeparse.Location())
	byDate, err := store.GetRecords(ctx, service.RecordFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, b.ID, byDate[0].ID)

	// Oldest first.
	all, err := store.GetRecords(ctx, service.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)

	recent, err := store.GetRecentRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, b.ID, recent[0].ID)
}

func TestBulkInsertInTransaction(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	t.Run("rollback leaves nothing behind", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		_, err = tx.CreateRecord(ctx, testRecord("fp-tx-rollback"))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		found, err := store.FindByFingerprint(ctx, "fp-tx-rollback")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("commit persists", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		_, err = tx.CreateRecord(ctx, testRecord("fp-tx-commit"))
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		found, err := store.FindByFingerprint(ctx, "fp-tx-commit")
		require.NoError(t, err)
		require.NotNil(t, found)
	})
}
