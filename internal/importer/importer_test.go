package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/ledgerlink/internal/attributes"
	"github.com/ledgerlink/ledgerlink/internal/fyle"
	"github.com/ledgerlink/ledgerlink/internal/netsuite"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

type fakeSource struct {
	pages   []fyle.ExpensePage
	cursors []string
	err     error
}

func (f *fakeSource) ListExpenses(ctx context.Context, filter fyle.ExpenseFilter) (fyle.ExpensePage, error) {
	if f.err != nil {
		return fyle.ExpensePage{}, f.err
	}
	f.cursors = append(f.cursors, filter.Cursor)
	if len(f.pages) == 0 {
		return fyle.ExpensePage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeSource) ListEmployees(ctx context.Context) ([]fyle.Employee, error) { return nil, nil }
func (f *fakeSource) ListCategories(ctx context.Context) ([]fyle.Category, error) {
	return nil, nil
}

type fakeDimensions struct {
	values map[string][]netsuite.Attribute
	err    error
}

func (f *fakeDimensions) ListDimension(ctx context.Context, dimension string) ([]netsuite.Attribute, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.values[dimension], nil
}

type memExpenseStore struct {
	upserted []workunit.Expense
	groups   []workunit.ExpenseGroup
}

func (m *memExpenseStore) UpsertExpenses(ctx context.Context, workspaceID int64, expenses []workunit.Expense) error {
	m.upserted = append(m.upserted, expenses...)
	return nil
}

func (m *memExpenseStore) UngroupedExpenses(ctx context.Context, workspaceID int64) ([]workunit.Expense, error) {
	out := make([]workunit.Expense, len(m.upserted))
	for i, e := range m.upserted {
		e.ID = int64(i + 1)
		out[i] = e
	}
	return out, nil
}

func (m *memExpenseStore) InsertGroup(ctx context.Context, g workunit.ExpenseGroup) (int64, error) {
	m.groups = append(m.groups, g)
	return int64(len(m.groups)), nil
}

type memAttrStore struct {
	batches map[string][]attributes.DestinationAttribute
}

func (m *memAttrStore) UpsertBatch(ctx context.Context, workspaceID int64, attrs []attributes.DestinationAttribute) error {
	if m.batches == nil {
		m.batches = map[string][]attributes.DestinationAttribute{}
	}
	for _, a := range attrs {
		m.batches[a.AttributeType] = append(m.batches[a.AttributeType], a)
	}
	return nil
}

type memTaskLog struct {
	begun     []taskledger.Entry
	completed int
	failed    int
	retryable bool
}

func (m *memTaskLog) BeginAttempt(ctx context.Context, workspaceID int64, groupID *int64, taskType taskledger.Type) (taskledger.Entry, error) {
	entry := taskledger.Entry{ID: int64(len(m.begun) + 1), WorkspaceID: workspaceID, ExpenseGroupID: groupID, Type: taskType}
	m.begun = append(m.begun, entry)
	return entry, nil
}

func (m *memTaskLog) Complete(ctx context.Context, entry taskledger.Entry, detail json.RawMessage) error {
	m.completed++
	return nil
}

func (m *memTaskLog) Fail(ctx context.Context, entry taskledger.Entry, detail json.RawMessage, retryable bool) error {
	m.failed++
	m.retryable = retryable
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sourceExpense(id, email, report, fundSource string) fyle.Expense {
	return fyle.Expense{
		ID:            id,
		EmployeeEmail: email,
		EmployeeName:  "Someone",
		Category:      "Travel",
		Amount:        decimal.RequireFromString("12.30"),
		Currency:      "USD",
		FundSource:    fundSource,
		ReportID:      report,
		SpentAt:       time.Now(),
	}
}

func TestFetchExpensesPagesAndGroups(t *testing.T) {
	source := &fakeSource{pages: []fyle.ExpensePage{
		{
			Expenses: []fyle.Expense{
				sourceExpense("exp1", "a@example.com", "rpt1", "PERSONAL"),
				sourceExpense("exp2", "a@example.com", "rpt1", "PERSONAL"),
			},
			NextCursor: "page2",
		},
		{
			Expenses: []fyle.Expense{
				sourceExpense("exp3", "b@example.com", "rpt2", "CORPORATE_CARD"),
			},
		},
	}}
	store := &memExpenseStore{}
	taskLog := &memTaskLog{}
	svc := NewService(source, &fakeDimensions{}, store, &memAttrStore{}, taskLog, discardLogger())

	require.NoError(t, svc.FetchExpenses(context.Background(), 1, time.Time{}))

	// Both pages were consumed, cursor threading included.
	require.Equal(t, []string{"", "page2"}, source.cursors)
	require.Len(t, store.upserted, 3)
	require.Len(t, store.groups, 2)

	require.Len(t, taskLog.begun, 1)
	require.Equal(t, taskledger.TypeFetchingExpenses, taskLog.begun[0].Type)
	require.Nil(t, taskLog.begun[0].ExpenseGroupID)
	require.Equal(t, 1, taskLog.completed)
}

func TestFetchExpensesRecordsRetryableFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream 502")}
	taskLog := &memTaskLog{}
	svc := NewService(source, &fakeDimensions{}, &memExpenseStore{}, &memAttrStore{}, taskLog, discardLogger())

	err := svc.FetchExpenses(context.Background(), 1, time.Time{})
	require.Error(t, err)
	require.Equal(t, 1, taskLog.failed)
	require.True(t, taskLog.retryable)
	require.Equal(t, 0, taskLog.completed)
}

func TestSyncDimensionsNormalizesAttributeTypes(t *testing.T) {
	dims := &fakeDimensions{values: map[string][]netsuite.Attribute{
		"EXPENSE_CATEGORY": {{Type: "EXPENSE_CATEGORY", InternalID: "123", Name: "Travel", Active: true}},
		"EMPLOYEE":         {{Type: "EMPLOYEE", InternalID: "456", Name: "Jane Doe", Active: true}},
	}}
	attrStore := &memAttrStore{}
	svc := NewService(&fakeSource{}, dims, &memExpenseStore{}, attrStore, &memTaskLog{}, discardLogger())

	require.NoError(t, svc.SyncDimensions(context.Background(), 1))

	require.Len(t, attrStore.batches["EXPENSE_CATEGORY"], 1)
	require.Equal(t, "Travel", attrStore.batches["EXPENSE_CATEGORY"][0].Value)
	require.Len(t, attrStore.batches["EMPLOYEE"], 1)
	require.Equal(t, "456", attrStore.batches["EMPLOYEE"][0].DestinationID)
}

type memInvalidator struct {
	keys []string
	err  error
}

func (m *memInvalidator) Invalidate(_ context.Context, workspaceID int64, attributeType, destinationID string) error {
	m.keys = append(m.keys, fmt.Sprintf("%d/%s/%s", workspaceID, attributeType, destinationID))
	return m.err
}

func TestSyncDimensionsEvictsCachedNames(t *testing.T) {
	dims := &fakeDimensions{values: map[string][]netsuite.Attribute{
		"EXPENSE_CATEGORY": {{Type: "EXPENSE_CATEGORY", InternalID: "123", Name: "Travel", Active: true}},
	}}
	cache := &memInvalidator{}
	svc := NewService(&fakeSource{}, dims, &memExpenseStore{}, &memAttrStore{}, &memTaskLog{}, discardLogger())
	svc.WithCacheInvalidator(cache)

	require.NoError(t, svc.SyncDimensions(context.Background(), 1))
	require.Contains(t, cache.keys, "1/EXPENSE_CATEGORY/123")
}

func TestSyncDimensionsIgnoresEvictionFailure(t *testing.T) {
	dims := &fakeDimensions{values: map[string][]netsuite.Attribute{
		"EXPENSE_CATEGORY": {{Type: "EXPENSE_CATEGORY", InternalID: "123", Name: "Travel", Active: true}},
	}}
	attrStore := &memAttrStore{}
	svc := NewService(&fakeSource{}, dims, &memExpenseStore{}, attrStore, &memTaskLog{}, discardLogger())
	svc.WithCacheInvalidator(&memInvalidator{err: errors.New("redis down")})

	require.NoError(t, svc.SyncDimensions(context.Background(), 1))
	require.Len(t, attrStore.batches["EXPENSE_CATEGORY"], 1)
}

func TestSyncDimensionsPropagatesLedgerFailure(t *testing.T) {
	dims := &fakeDimensions{err: &netsuite.LoginError{Message: "token expired"}}
	svc := NewService(&fakeSource{}, dims, &memExpenseStore{}, &memAttrStore{}, &memTaskLog{}, discardLogger())

	err := svc.SyncDimensions(context.Background(), 1)
	require.Error(t, err)
	require.True(t, netsuite.IsCredentialError(err))
}
