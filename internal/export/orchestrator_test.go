package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/ledgerlink/internal/classifier"
	"github.com/ledgerlink/ledgerlink/internal/errorstore"
	"github.com/ledgerlink/ledgerlink/internal/netsuite"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

type fakeConfigStore struct {
	cfg WorkspaceConfig
	err error
}

func (f *fakeConfigStore) Get(ctx context.Context, workspaceID int64) (WorkspaceConfig, error) {
	return f.cfg, f.err
}

type fakeCredStore struct {
	valid       bool
	validCalls  int
	invalidated int
}

func (f *fakeCredStore) Valid(ctx context.Context, workspaceID int64) (bool, error) {
	f.validCalls++
	return f.valid, nil
}

func (f *fakeCredStore) Invalidate(ctx context.Context, workspaceID int64) error {
	f.invalidated++
	f.valid = false
	return nil
}

type taskEvent struct {
	entry     taskledger.Entry
	status    taskledger.Status
	retryable bool
	detail    json.RawMessage
}

type memTaskLog struct {
	eligible map[workunit.FundSource][]workunit.ExpenseGroup
	nextID   int64
	begun    []taskledger.Entry
	events   []taskEvent
	purged   [][]int64
}

func (m *memTaskLog) BeginAttempt(ctx context.Context, workspaceID int64, groupID *int64, taskType taskledger.Type) (taskledger.Entry, error) {
	m.nextID++
	entry := taskledger.Entry{
		ID:             m.nextID,
		WorkspaceID:    workspaceID,
		ExpenseGroupID: groupID,
		Type:           taskType,
		Status:         taskledger.StatusInProgress,
	}
	m.begun = append(m.begun, entry)
	return entry, nil
}

func (m *memTaskLog) Complete(ctx context.Context, entry taskledger.Entry, detail json.RawMessage) error {
	m.events = append(m.events, taskEvent{entry: entry, status: taskledger.StatusComplete, detail: detail})
	return nil
}

func (m *memTaskLog) Fail(ctx context.Context, entry taskledger.Entry, detail json.RawMessage, retryable bool) error {
	m.events = append(m.events, taskEvent{entry: entry, status: taskledger.StatusFailed, retryable: retryable, detail: detail})
	return nil
}

func (m *memTaskLog) Fatal(ctx context.Context, entry taskledger.Entry, detail json.RawMessage) error {
	m.events = append(m.events, taskEvent{entry: entry, status: taskledger.StatusFatal, detail: detail})
	return nil
}

func (m *memTaskLog) EligibleForExport(ctx context.Context, workspaceID int64, fundSource workunit.FundSource, taskType taskledger.Type) ([]workunit.ExpenseGroup, error) {
	return m.eligible[fundSource], nil
}

func (m *memTaskLog) PurgeForGroups(ctx context.Context, workspaceID int64, groupIDs []int64) error {
	m.purged = append(m.purged, groupIDs)
	return nil
}

func (m *memTaskLog) byStatus(status taskledger.Status) []taskEvent {
	var out []taskEvent
	for _, e := range m.events {
		if e.status == status {
			out = append(out, e)
		}
	}
	return out
}

type memGroupStore struct {
	expenses     map[int64][]workunit.Expense
	unpaid       []workunit.ExpenseGroup
	pending      map[workunit.FundSource][]int64
	exported     []int64
	expensesDone []int64
	paid         []int64
}

func (m *memGroupStore) Expenses(ctx context.Context, workspaceID, groupID int64) ([]workunit.Expense, error) {
	return m.expenses[groupID], nil
}

func (m *memGroupStore) MarkExported(ctx context.Context, workspaceID, groupID int64, exportedAt time.Time, url string) error {
	m.exported = append(m.exported, groupID)
	return nil
}

func (m *memGroupStore) MarkExpensesExported(ctx context.Context, workspaceID, groupID int64) error {
	m.expensesDone = append(m.expensesDone, groupID)
	return nil
}

func (m *memGroupStore) PendingIDs(ctx context.Context, workspaceID int64, fundSource workunit.FundSource) ([]int64, error) {
	return m.pending[fundSource], nil
}

func (m *memGroupStore) ExportedUnpaid(ctx context.Context, workspaceID int64) ([]workunit.ExpenseGroup, error) {
	return m.unpaid, nil
}

func (m *memGroupStore) MarkPaid(ctx context.Context, workspaceID, groupID int64) error {
	m.paid = append(m.paid, groupID)
	return nil
}

type memErrorSink struct {
	upserts  []errorstore.Input
	resolved []int64
	purged   [][]int64
}

func (m *memErrorSink) Upsert(ctx context.Context, in errorstore.Input) (errorstore.Record, error) {
	m.upserts = append(m.upserts, in)
	return errorstore.Record{WorkspaceID: in.WorkspaceID, ExpenseGroupID: in.ExpenseGroupID, Type: in.Type}, nil
}

func (m *memErrorSink) Resolve(ctx context.Context, workspaceID, groupID int64) error {
	m.resolved = append(m.resolved, groupID)
	return nil
}

func (m *memErrorSink) PurgeForGroups(ctx context.Context, workspaceID int64, groupIDs []int64) error {
	m.purged = append(m.purged, groupIDs)
	return nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, workspaceID int64, exportType classifier.ExportType, message string) classifier.Result {
	return classifier.Result{Message: "translated: " + message, Parsed: true, ArticleLink: "https://help.example/article"}
}

type memSummaries struct {
	recorded []CycleSummary
}

func (m *memSummaries) Record(ctx context.Context, s CycleSummary) error {
	m.recorded = append(m.recorded, s)
	return nil
}

type fakeEntityLookup struct {
	id  string
	err error
}

func (f *fakeEntityLookup) DestinationEntityID(ctx context.Context, workspaceID int64, employeeEmail, mapping string) (string, error) {
	return f.id, f.err
}

// fakeLedger fails specific groups by external id and records every write.
type fakeLedger struct {
	failures map[string]error
	writes   []string
}

func (f *fakeLedger) write(externalID string) (netsuite.ExportResponse, error) {
	f.writes = append(f.writes, externalID)
	if err, ok := f.failures[externalID]; ok {
		return netsuite.ExportResponse{}, err
	}
	return netsuite.ExportResponse{InternalID: "NS-" + externalID[:8], URL: "https://ledger.example/" + externalID}, nil
}

func (f *fakeLedger) CreateBill(ctx context.Context, p netsuite.BillPayload) (netsuite.ExportResponse, error) {
	return f.write(p.ExternalID)
}

func (f *fakeLedger) CreateExpenseReport(ctx context.Context, p netsuite.ExpenseReportPayload) (netsuite.ExportResponse, error) {
	return f.write(p.ExternalID)
}

func (f *fakeLedger) CreateJournalEntry(ctx context.Context, p netsuite.JournalEntryPayload) (netsuite.ExportResponse, error) {
	return f.write(p.ExternalID)
}

func (f *fakeLedger) CreateCreditCardCharge(ctx context.Context, p netsuite.CreditCardChargePayload) (netsuite.ExportResponse, error) {
	return f.write(p.ExternalID)
}

func (f *fakeLedger) CreateVendorPayment(ctx context.Context, p netsuite.VendorPaymentPayload) (netsuite.ExportResponse, error) {
	return f.write(p.ExternalID)
}

type fixture struct {
	orchestrator *Orchestrator
	config       *fakeConfigStore
	creds        *fakeCredStore
	taskLog      *memTaskLog
	groups       *memGroupStore
	errs         *memErrorSink
	summaries    *memSummaries
	ledger       *fakeLedger
}

func group(workspaceID, id int64, fundSource workunit.FundSource) workunit.ExpenseGroup {
	return workunit.ExpenseGroup{
		ID:            id,
		WorkspaceID:   workspaceID,
		FundSource:    fundSource,
		EmployeeEmail: fmt.Sprintf("user%d@example.com", id),
	}
}

func expense(groupID int64, amount string) workunit.Expense {
	return workunit.Expense{
		ID:         groupID * 100,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		FundSource: workunit.FundSourcePersonal,
	}
}

func newFixture(t *testing.T, cfg WorkspaceConfig) *fixture {
	t.Helper()
	f := &fixture{
		config:    &fakeConfigStore{cfg: cfg},
		creds:     &fakeCredStore{valid: true},
		taskLog:   &memTaskLog{eligible: map[workunit.FundSource][]workunit.ExpenseGroup{}},
		groups:    &memGroupStore{expenses: map[int64][]workunit.Expense{}, pending: map[workunit.FundSource][]int64{}},
		errs:      &memErrorSink{},
		summaries: &memSummaries{},
		ledger:    &fakeLedger{failures: map[string]error{}},
	}
	orchestrator, err := NewOrchestrator(OrchestratorParams{
		Config:     f.config,
		Creds:      f.creds,
		TaskLog:    f.taskLog,
		Groups:     f.groups,
		Errors:     f.errs,
		Classifier: stubClassifier{},
		Entities:   &fakeEntityLookup{id: "1001"},
		Ledger:     f.ledger,
		Summaries:  f.summaries,
	})
	require.NoError(t, err)
	f.orchestrator = orchestrator
	return f
}

func personalConfig() WorkspaceConfig {
	return WorkspaceConfig{
		WorkspaceID:          1,
		ReimbursableObject:   ObjectExpenseReport,
		EmployeeFieldMapping: "EMPLOYEE",
		AutoExportEnabled:    true,
		AutoExportInterval:   time.Hour,
	}
}

func TestRunCycleMixedOutcomes(t *testing.T) {
	f := newFixture(t, personalConfig())

	groups := []workunit.ExpenseGroup{
		group(1, 10, workunit.FundSourcePersonal),
		group(1, 11, workunit.FundSourcePersonal),
		group(1, 12, workunit.FundSourcePersonal),
	}
	f.taskLog.eligible[workunit.FundSourcePersonal] = groups
	for _, g := range groups {
		f.groups.expenses[g.ID] = []workunit.Expense{expense(g.ID, "42.50")}
	}
	f.ledger.failures[workunit.DedupKey(groups[1])] = &netsuite.RateLimitError{Message: "Concurrent request limit exceeded"}

	summary, err := f.orchestrator.RunCycle(context.Background(), 1, ModeManual)
	require.NoError(t, err)

	require.Equal(t, 3, summary.TotalCount)
	require.Equal(t, 2, summary.SuccessfulCount)
	require.Equal(t, 1, summary.FailedCount)
	require.Equal(t, ModeManual, summary.Mode)
	require.NotNil(t, summary.NextExportAt)
	require.Equal(t, summary.LastExportedAt.Add(time.Hour), *summary.NextExportAt)

	require.Len(t, f.summaries.recorded, 1)
	require.Len(t, f.taskLog.begun, 3)
	require.Len(t, f.taskLog.byStatus(taskledger.StatusComplete), 2)

	fails := f.taskLog.byStatus(taskledger.StatusFailed)
	require.Len(t, fails, 1)
	require.True(t, fails[0].retryable)

	require.ElementsMatch(t, []int64{10, 12}, f.groups.exported)
	require.ElementsMatch(t, []int64{10, 12}, f.groups.expensesDone)
	require.ElementsMatch(t, []int64{10, 12}, f.errs.resolved)

	require.Len(t, f.errs.upserts, 1)
	failed := f.errs.upserts[0]
	require.Equal(t, errorstore.TypeNetSuiteError, failed.Type)
	require.NotNil(t, failed.ExpenseGroupID)
	require.Equal(t, int64(11), *failed.ExpenseGroupID)
	require.Contains(t, failed.Detail, "translated:")
	require.True(t, failed.IsParsed)
}

func TestRunCycleValidationFailureNotRetryable(t *testing.T) {
	f := newFixture(t, personalConfig())

	g := group(1, 20, workunit.FundSourcePersonal)
	f.taskLog.eligible[workunit.FundSourcePersonal] = []workunit.ExpenseGroup{g}
	f.groups.expenses[g.ID] = []workunit.Expense{expense(g.ID, "13.00")}
	f.ledger.failures[workunit.DedupKey(g)] = &netsuite.ValidationError{
		Errors: []netsuite.FieldError{{Field: "category", Message: "Invalid category reference key 123 for entity 456"}},
	}

	summary, err := f.orchestrator.RunCycle(context.Background(), 1, ModeManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.FailedCount)

	fails := f.taskLog.byStatus(taskledger.StatusFailed)
	require.Len(t, fails, 1)
	require.False(t, fails[0].retryable)

	// No group succeeded, so the cycle leaves the summary untouched.
	require.Empty(t, f.summaries.recorded)
}

func TestRunCycleCredentialFailureHaltsCycle(t *testing.T) {
	f := newFixture(t, personalConfig())

	groups := []workunit.ExpenseGroup{
		group(1, 30, workunit.FundSourcePersonal),
		group(1, 31, workunit.FundSourcePersonal),
	}
	f.taskLog.eligible[workunit.FundSourcePersonal] = groups
	for _, g := range groups {
		f.groups.expenses[g.ID] = []workunit.Expense{expense(g.ID, "9.99")}
	}
	f.ledger.failures[workunit.DedupKey(groups[0])] = &netsuite.LoginError{Message: "Invalid login attempt"}

	summary, err := f.orchestrator.RunCycle(context.Background(), 1, ModeAuto)
	require.NoError(t, err)

	// The second group is never attempted.
	require.Len(t, f.taskLog.begun, 1)
	require.Len(t, f.ledger.writes, 1)
	require.Equal(t, 1, f.creds.invalidated)
	require.Equal(t, 1, summary.FailedCount)

	// Credential failures become one workspace-wide record with no group.
	require.Len(t, f.errs.upserts, 1)
	require.Equal(t, errorstore.TypeConnectionError, f.errs.upserts[0].Type)
	require.Nil(t, f.errs.upserts[0].ExpenseGroupID)

	fails := f.taskLog.byStatus(taskledger.StatusFailed)
	require.Len(t, fails, 1)
	require.True(t, fails[0].retryable)
}

func TestRunCycleUnknownFailureIsFatal(t *testing.T) {
	f := newFixture(t, personalConfig())

	g := group(1, 40, workunit.FundSourcePersonal)
	f.taskLog.eligible[workunit.FundSourcePersonal] = []workunit.ExpenseGroup{g}
	f.groups.expenses[g.ID] = []workunit.Expense{expense(g.ID, "5.00")}
	f.ledger.failures[workunit.DedupKey(g)] = errors.New("json: cannot unmarshal")

	_, err := f.orchestrator.RunCycle(context.Background(), 1, ModeManual)
	require.NoError(t, err)

	require.Len(t, f.taskLog.byStatus(taskledger.StatusFatal), 1)
	require.Empty(t, f.errs.upserts)
}

func TestRunCycleRoutesBothFundSources(t *testing.T) {
	cfg := personalConfig()
	cfg.CorporateCardObject = ObjectCreditCardCharge
	cfg.CreditCardAccountID = "228"
	f := newFixture(t, cfg)

	personal := group(1, 50, workunit.FundSourcePersonal)
	card := group(1, 51, workunit.FundSourceCorporateCard)
	f.taskLog.eligible[workunit.FundSourcePersonal] = []workunit.ExpenseGroup{personal}
	f.taskLog.eligible[workunit.FundSourceCorporateCard] = []workunit.ExpenseGroup{card}
	f.groups.expenses[personal.ID] = []workunit.Expense{expense(personal.ID, "10.00")}
	f.groups.expenses[card.ID] = []workunit.Expense{expense(card.ID, "20.00")}

	summary, err := f.orchestrator.RunCycle(context.Background(), 1, ModeManual)
	require.NoError(t, err)
	require.Equal(t, 2, summary.SuccessfulCount)

	require.Len(t, f.taskLog.begun, 2)
	require.Equal(t, taskledger.TypeCreatingExpenseReport, f.taskLog.begun[0].Type)
	require.Equal(t, taskledger.TypeCreatingCreditCardCharge, f.taskLog.begun[1].Type)
}

func TestCreateVendorPaymentsSettlesExportedBills(t *testing.T) {
	cfg := personalConfig()
	cfg.ReimbursableObject = ObjectBill
	f := newFixture(t, cfg)

	f.groups.unpaid = []workunit.ExpenseGroup{
		group(1, 60, workunit.FundSourcePersonal),
		group(1, 61, workunit.FundSourcePersonal),
	}
	f.groups.expenses[60] = []workunit.Expense{expense(60, "100.00")}
	f.groups.expenses[61] = []workunit.Expense{expense(61, "250.00")}

	require.NoError(t, f.orchestrator.CreateVendorPayments(context.Background(), 1))

	require.ElementsMatch(t, []int64{60, 61}, f.groups.paid)
	require.Len(t, f.taskLog.begun, 1)
	require.True(t, f.taskLog.begun[0].WorkspaceScoped())
	require.Equal(t, taskledger.TypeCreatingVendorPayment, f.taskLog.begun[0].Type)
	require.Len(t, f.taskLog.byStatus(taskledger.StatusComplete), 1)
}

func TestCreateVendorPaymentsSkipsNonBillWorkspaces(t *testing.T) {
	f := newFixture(t, personalConfig())
	f.groups.unpaid = []workunit.ExpenseGroup{group(1, 70, workunit.FundSourcePersonal)}

	require.NoError(t, f.orchestrator.CreateVendorPayments(context.Background(), 1))
	require.Empty(t, f.groups.paid)
	require.Empty(t, f.taskLog.begun)
}

func TestPurgeStaleDropsUnroutedFundSources(t *testing.T) {
	// Only personal expenses are routed; corporate card state is stale.
	f := newFixture(t, personalConfig())
	f.groups.pending[workunit.FundSourceCorporateCard] = []int64{80, 81}

	require.NoError(t, f.orchestrator.PurgeStale(context.Background(), 1))

	require.Len(t, f.taskLog.purged, 1)
	require.Equal(t, []int64{80, 81}, f.taskLog.purged[0])
	require.Len(t, f.errs.purged, 1)
	require.Equal(t, []int64{80, 81}, f.errs.purged[0])
}
