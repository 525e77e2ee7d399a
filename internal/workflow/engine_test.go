package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clearline/internal/audit"
	"clearline/internal/catalog"
	"clearline/internal/db"
	"clearline/internal/domain"
	"clearline/internal/migrate"
	"clearline/internal/perm"
	"clearline/internal/repo"
	"clearline/internal/workflow"
)

var (
	buUser  = domain.User{ID: "bu-1", Name: "BU Agent", Department: domain.DeptBusinessUnit, Role: domain.RoleAPR, Level: domain.LevelEdit}
	finUser = domain.User{ID: "fin-1", Name: "Finance Agent", Department: domain.DeptFinance, Role: domain.RoleAPR, Level: domain.LevelEdit}
	ccUser  = domain.User{ID: "cc-1", Name: "Clearance Agent", Department: domain.DeptCustomsClearance, Role: domain.RolePPR, Level: domain.LevelEdit}
	admin   = domain.User{ID: "adm-1", Name: "Admin", Department: domain.DeptBusinessUnit, Role: domain.RoleAdmin, Level: domain.LevelFull}
	viewer  = domain.User{ID: "ro-1", Department: domain.DeptFinance, Role: domain.RoleReadOnly, Level: domain.LevelReadOnly}
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New("test-1", []catalog.StepDefinition{
		{StepNumber: "1.1", Sequence: 1, Name: "Document registration", Department: domain.DeptBusinessUnit, EtaOffsetDays: -5},
		{StepNumber: "1.2", Sequence: 2, Name: "LC opening", Department: domain.DeptFinance, EtaOffsetDays: -3,
			Dependencies: []string{"1.1"},
			RequiredFields: []catalog.FieldSpec{
				{Name: "lc_number", Type: catalog.FieldString, Required: true, Pattern: `^LC-[A-Z0-9-]+$`},
			}},
		{StepNumber: "2.1", Sequence: 3, Name: "Bayan filing", Department: domain.DeptCustomsClearance, EtaOffsetDays: 1,
			Dependencies: []string{"1.2"}, IsCritical: true},
		{StepNumber: "2.4", Sequence: 4, Name: "Delivery order", Department: domain.DeptCustomsClearance, EtaOffsetDays: 3,
			Dependencies: []string{"1.2", "2.1"}, IsCritical: true},
		{StepNumber: "3.2", Sequence: 5, Name: "Defect report", Department: domain.DeptBusinessUnitStores, EtaOffsetDays: 7,
			Dependencies: []string{"2.4"}, IsOptional: true},
	})
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return c
}

type testEnv struct {
	Engine *workflow.Engine
	Ledger *audit.Ledger
	Ctx    context.Context
	Now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ledger := audit.New(nil, nil)
	eng := workflow.New(repo.Repo{DB: conn}, testCatalog(t), ledger)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	return &testEnv{Engine: eng, Ledger: ledger, Ctx: context.Background(), Now: now}
}

func (env *testEnv) createShipment(t *testing.T, eta string) domain.Shipment {
	t.Helper()
	s, err := env.Engine.CreateShipment(env.Ctx, buUser, workflow.CreateShipmentOptions{
		ShipmentNumber: "SH-2025-001",
		Principal:      "Gulf Trading LLC",
		ETA:            eta,
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	return s
}

func (env *testEnv) complete(t *testing.T, u domain.User, shipmentID, step string, data map[string]any) workflow.CompleteResult {
	t.Helper()
	res, err := env.Engine.CompleteStep(env.Ctx, u, shipmentID, step, workflow.CompleteStepOptions{Data: data})
	if err != nil {
		t.Fatalf("complete %s: %v", step, err)
	}
	return res
}

func TestCreateShipmentInstantiatesSteps(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	if s.Status != domain.ShipmentActive || s.RiskLevel != domain.RiskLow {
		t.Fatalf("new shipment state: %s %s", s.Status, s.RiskLevel)
	}
	if s.CurrentStepNumber != "1.1" {
		t.Fatalf("current step: %s", s.CurrentStepNumber)
	}
	steps, err := env.Engine.GetWorkflowSteps(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 5 {
		t.Fatalf("expected 5 step instances, got %d", len(steps))
	}
	if steps[0].TargetDate != "2025-03-10" { // ETA - 5
		t.Fatalf("target date for first step: %s", steps[0].TargetDate)
	}
	if steps[3].TargetDate != "2025-03-18" { // ETA + 3
		t.Fatalf("target date for delivery order: %s", steps[3].TargetDate)
	}
	entries := env.Ledger.TrailFor("shipment", s.ID)
	if len(entries) != 1 || entries[0].Action != audit.ActionCreate {
		t.Fatalf("expected one create entry, got %+v", entries)
	}
}

func TestCompleteStepHappyPath(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	res := env.complete(t, buUser, s.ID, "1.1", nil)
	if res.Step.Status != domain.StepCompleted || res.Step.ActualDate == nil {
		t.Fatalf("step not completed: %+v", res.Step)
	}
	if *res.Step.ActualDate != "2025-03-10" {
		t.Fatalf("actual date defaulted wrong: %s", *res.Step.ActualDate)
	}
	if res.Shipment.CurrentStepNumber != "1.2" {
		t.Fatalf("current step should advance: %s", res.Shipment.CurrentStepNumber)
	}

	trail := env.Ledger.TrailFor("workflow_step", s.ID+"/1.1")
	if len(trail) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(trail))
	}
	e := trail[0]
	if e.Action != audit.ActionCompleteStep || e.UserID != buUser.ID || e.RequiresReview {
		t.Fatalf("unexpected entry: %+v", e)
	}
	var statusDiff *audit.FieldChange
	for i := range e.Details {
		if e.Details[i].Field == "status" {
			statusDiff = &e.Details[i]
		}
	}
	if statusDiff == nil || statusDiff.Old != "pending" || statusDiff.New != "completed" {
		t.Fatalf("status diff: %+v", e.Details)
	}
}

func TestCompleteStepIdempotent(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	env.complete(t, buUser, s.ID, "1.1", nil)

	res, err := env.Engine.CompleteStep(env.Ctx, buUser, s.ID, "1.1", workflow.CompleteStepOptions{})
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if res.Step.Status != domain.StepCompleted {
		t.Fatalf("repeat should return completed state")
	}
	if trail := env.Ledger.TrailFor("workflow_step", s.ID+"/1.1"); len(trail) != 1 {
		t.Fatalf("repeat completion must not add a ledger entry, got %d", len(trail))
	}
}

func TestCompleteStepCollectsAllMissingDependencies(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	_, err := env.Engine.CompleteStep(env.Ctx, ccUser, s.ID, "2.4", workflow.CompleteStepOptions{})
	var dep workflow.DependencyNotSatisfiedError
	if !errors.As(err, &dep) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if dep.StepNumber != "2.4" || len(dep.Missing) != 2 || dep.Missing[0] != "1.2" || dep.Missing[1] != "2.1" {
		t.Fatalf("expected every missing dependency listed, got %+v", dep)
	}
	if trail := env.Ledger.TrailFor("workflow_step", s.ID+"/2.4"); len(trail) != 0 {
		t.Fatalf("failed completion must not be audited")
	}

	// once one dependency is satisfied the error narrows to the remainder
	env.complete(t, buUser, s.ID, "1.1", nil)
	env.complete(t, finUser, s.ID, "1.2", map[string]any{"lc_number": "LC-2025-0001"})
	_, err = env.Engine.CompleteStep(env.Ctx, ccUser, s.ID, "2.4", workflow.CompleteStepOptions{})
	if !errors.As(err, &dep) || len(dep.Missing) != 1 || dep.Missing[0] != "2.1" {
		t.Fatalf("expected only 2.1 missing, got %v", err)
	}
}

func TestCompleteStepWrongDepartment(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	_, err := env.Engine.CompleteStep(env.Ctx, finUser, s.ID, "1.1", workflow.CompleteStepOptions{})
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) || ae.Reason != perm.ReasonWrongDepartment {
		t.Fatalf("expected WrongDepartment, got %v", err)
	}
	steps, _ := env.Engine.GetWorkflowSteps(env.Ctx, s.ID)
	if steps[0].Status != domain.StepPending {
		t.Fatalf("denied completion must not mutate")
	}
	if trail := env.Ledger.TrailFor("workflow_step", s.ID+"/1.1"); len(trail) != 0 {
		t.Fatalf("denied completion must not be audited")
	}

	// admin role crosses departments
	if _, err := env.Engine.CompleteStep(env.Ctx, admin, s.ID, "1.1", workflow.CompleteStepOptions{}); err != nil {
		t.Fatalf("admin should complete any step: %v", err)
	}
}

func TestCompleteStepReadOnlyDenied(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	_, err := env.Engine.CompleteStep(env.Ctx, viewer, s.ID, "1.1", workflow.CompleteStepOptions{})
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) || ae.Reason != perm.ReasonInsufficientLevel {
		t.Fatalf("expected InsufficientLevel, got %v", err)
	}
}

func TestCompleteStepFieldValidation(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	env.complete(t, buUser, s.ID, "1.1", nil)

	_, err := env.Engine.CompleteStep(env.Ctx, finUser, s.ID, "1.2", workflow.CompleteStepOptions{
		Data: map[string]any{"lc_number": "bogus"},
	})
	var ve catalog.ValidationError
	if !errors.As(err, &ve) || ve.Field != "lc_number" {
		t.Fatalf("expected lc_number validation error, got %v", err)
	}
	env.complete(t, finUser, s.ID, "1.2", map[string]any{"lc_number": "LC-2025-0042"})
}

func TestCompleteStepRejectsFutureActualDate(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	_, err := env.Engine.CompleteStep(env.Ctx, buUser, s.ID, "1.1", workflow.CompleteStepOptions{ActualDate: "2025-04-01"})
	var ve catalog.ValidationError
	if !errors.As(err, &ve) || ve.Field != "actual_date" {
		t.Fatalf("expected actual_date error, got %v", err)
	}
}

func TestOptionalStepsDoNotGateCompletion(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	env.complete(t, buUser, s.ID, "1.1", nil)
	env.complete(t, finUser, s.ID, "1.2", map[string]any{"lc_number": "LC-1"})
	env.complete(t, ccUser, s.ID, "2.1", nil)
	res := env.complete(t, ccUser, s.ID, "2.4", nil)

	if res.Shipment.CurrentStepNumber != workflow.StepsComplete {
		t.Fatalf("optional step 3.2 should not pin current step: %s", res.Shipment.CurrentStepNumber)
	}
	if res.Shipment.Status != domain.ShipmentCompleted {
		t.Fatalf("optional step 3.2 should not hold completion: %s", res.Shipment.Status)
	}
}

func TestDerivedRiskFromElapsedDays(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		eta    string
		level  domain.RiskLevel
		status domain.ShipmentStatus
	}{
		{"2025-03-08", domain.RiskMedium, domain.ShipmentDelayed},  // 2 days post ETA, pre-arrival steps overdue
		{"2025-03-03", domain.RiskHigh, domain.ShipmentAtRisk},     // 7 days
		{"2025-03-01", domain.RiskCritical, domain.ShipmentAtRisk}, // 9 days
	}
	for _, c := range cases {
		s, err := env.Engine.CreateShipment(env.Ctx, buUser, workflow.CreateShipmentOptions{
			ShipmentNumber: "SH-" + c.eta, ETA: c.eta,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := env.Engine.GetShipment(env.Ctx, s.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.RiskLevel != c.level || got.Status != c.status {
			t.Errorf("eta %s: got %s/%s, want %s/%s", c.eta, got.RiskLevel, got.Status, c.level, c.status)
		}
	}
}

func TestOverdueStepsRaiseRisk(t *testing.T) {
	env := newTestEnv(t)
	// ETA one day out, but step 1.1's target (ETA-5) is 4 days past.
	s := env.createShipment(t, "2025-03-11")
	got, err := env.Engine.GetShipment(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DaysPostEta != 0 {
		t.Fatalf("not yet post ETA: %d", got.DaysPostEta)
	}
	if got.RiskLevel != domain.RiskMedium {
		t.Fatalf("overdue non-critical step should raise to medium, got %s", got.RiskLevel)
	}
	steps, _ := env.Engine.GetWorkflowSteps(env.Ctx, s.ID)
	if steps[0].DerivedStatus != domain.StepOverdue {
		t.Fatalf("step 1.1 should derive overdue, got %s", steps[0].DerivedStatus)
	}
	if steps[0].Status != domain.StepPending {
		t.Fatalf("stored status must stay pending, got %s", steps[0].Status)
	}
}

func TestBlockStepPropagatesAndEscalates(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	if _, err := env.Engine.BlockStep(env.Ctx, ccUser, s.ID, "2.1", "bayan rejected"); err != nil {
		t.Fatalf("block: %v", err)
	}
	steps, _ := env.Engine.GetWorkflowSteps(env.Ctx, s.ID)
	byNum := map[string]domain.StepInstance{}
	for _, st := range steps {
		byNum[st.StepNumber] = st
	}
	if byNum["2.1"].DerivedStatus != domain.StepBlocked {
		t.Fatalf("blocked step derives blocked")
	}
	if byNum["2.4"].DerivedStatus != domain.StepBlocked {
		t.Fatalf("blockage must propagate to dependents, got %s", byNum["2.4"].DerivedStatus)
	}
	if byNum["1.1"].DerivedStatus == domain.StepBlocked {
		t.Fatalf("blockage must not propagate upstream")
	}
	got, err := env.Engine.GetShipment(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RiskLevel != domain.RiskCritical {
		t.Fatalf("blocked workflow is critical, got %s", got.RiskLevel)
	}
}

func TestUpdateShipmentETA(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	eta := "2025-03-20"
	updated, err := env.Engine.UpdateShipment(env.Ctx, buUser, s.ID, workflow.UpdateShipmentOptions{ETA: &eta})
	if err != nil {
		t.Fatalf("update eta: %v", err)
	}
	if updated.ETA != eta || updated.ETAEditCount != 1 {
		t.Fatalf("eta not applied: %s count %d", updated.ETA, updated.ETAEditCount)
	}
	steps, _ := env.Engine.GetWorkflowSteps(env.Ctx, s.ID)
	if steps[0].TargetDate != "2025-03-15" { // new ETA - 5
		t.Fatalf("target dates must shift with ETA, got %s", steps[0].TargetDate)
	}

	// only the business unit may revise the ETA
	_, err = env.Engine.UpdateShipment(env.Ctx, finUser, s.ID, workflow.UpdateShipmentOptions{ETA: &eta})
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) || ae.Reason != perm.ReasonWrongDepartment {
		t.Fatalf("expected WrongDepartment for finance ETA edit, got %v", err)
	}
}

func TestUpdateShipmentETAEditLimit(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	for i, eta := range []string{"2025-03-16", "2025-03-17", "2025-03-18"} {
		e := eta
		if _, err := env.Engine.UpdateShipment(env.Ctx, buUser, s.ID, workflow.UpdateShipmentOptions{ETA: &e}); err != nil {
			t.Fatalf("edit %d: %v", i+1, err)
		}
	}
	over := "2025-03-19"
	_, err := env.Engine.UpdateShipment(env.Ctx, buUser, s.ID, workflow.UpdateShipmentOptions{ETA: &over})
	var ve catalog.ValidationError
	if !errors.As(err, &ve) || ve.Field != "eta" {
		t.Fatalf("expected eta edit limit error, got %v", err)
	}
}

func TestDeleteShipmentRequiresFullAccess(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	err := env.Engine.DeleteShipment(env.Ctx, buUser, s.ID)
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) || ae.Reason != perm.ReasonInsufficientLevel {
		t.Fatalf("level 2 delete: expected InsufficientLevel, got %v", err)
	}

	if err := env.Engine.DeleteShipment(env.Ctx, admin, s.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	var nf workflow.NotFoundError
	if _, err := env.Engine.GetShipment(env.Ctx, s.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	entries := env.Ledger.Query(audit.Filters{Action: audit.ActionDelete})
	if len(entries) != 1 || !entries[0].RequiresReview {
		t.Fatalf("delete must carry review flag: %+v", entries)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	d, err := env.Engine.UploadDocument(env.Ctx, ccUser, s.ID, "2.1", "bayan-filing.pdf")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	docs, err := env.Engine.ListDocuments(env.Ctx, s.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("list docs: %v %d", err, len(docs))
	}

	err = env.Engine.DeleteDocument(env.Ctx, ccUser, d.ID)
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("level 2 doc delete: expected denial, got %v", err)
	}
	if err := env.Engine.DeleteDocument(env.Ctx, admin, d.ID); err != nil {
		t.Fatalf("admin doc delete: %v", err)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.RiskLevel
}

func (n *recordingNotifier) RiskEscalated(_ context.Context, _ domain.Shipment, _, to domain.RiskLevel) {
	n.mu.Lock()
	n.events = append(n.events, to)
	n.mu.Unlock()
}

func TestTickEscalatesRisk(t *testing.T) {
	env := newTestEnv(t)
	notifier := &recordingNotifier{}
	env.Engine.Notifier = notifier

	s := env.createShipment(t, "2025-03-09") // 1 day post ETA at creation
	// advance the clock to 6 days post ETA
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC) }
	if err := env.Engine.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := env.Engine.GetShipment(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RiskLevel != domain.RiskHigh || got.DaysPostEta != 6 {
		t.Fatalf("expected high risk at 6 days, got %s/%d", got.RiskLevel, got.DaysPostEta)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) == 0 || notifier.events[len(notifier.events)-1] != domain.RiskHigh {
		t.Fatalf("expected escalation event to high, got %v", notifier.events)
	}
}

// hookedStore lets a test commit writes in the window between a listing and
// the per-shipment lock.
type hookedStore struct {
	workflow.Store
	mu        sync.Mutex
	afterList func()
}

func (h *hookedStore) ListShipments(ctx context.Context) ([]domain.Shipment, error) {
	out, err := h.Store.ListShipments(ctx)
	h.mu.Lock()
	hook := h.afterList
	h.afterList = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, err
}

func TestTickPreservesConcurrentEdit(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-08")

	hooked := &hookedStore{Store: env.Engine.Store}
	env.Engine.Store = hooked
	eta := "2025-03-25"
	hooked.afterList = func() {
		if _, err := env.Engine.UpdateShipment(env.Ctx, buUser, s.ID, workflow.UpdateShipmentOptions{ETA: &eta}); err != nil {
			t.Errorf("eta edit during tick: %v", err)
		}
	}
	if err := env.Engine.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := env.Engine.GetShipment(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ETA != eta || got.ETAEditCount != 1 {
		t.Fatalf("committed eta edit was overwritten: eta %s count %d", got.ETA, got.ETAEditCount)
	}
}

func TestStepScopedMutationsRequireStepAccess(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	// full permission level, but neither the owning department nor an
	// oversight role
	finFull := domain.User{ID: "fin-3", Department: domain.DeptFinance, Role: domain.RoleAPR, Level: domain.LevelFull}

	var ae workflow.AuthorizationError
	_, err := env.Engine.BlockStep(env.Ctx, finFull, s.ID, "2.1", "bayan rejected")
	if !errors.As(err, &ae) || ae.Reason != perm.ReasonWrongDepartment {
		t.Fatalf("block: expected WrongDepartment, got %v", err)
	}
	_, err = env.Engine.UploadDocument(env.Ctx, finFull, s.ID, "2.1", "bayan.pdf")
	if !errors.As(err, &ae) || ae.Reason != perm.ReasonWrongDepartment {
		t.Fatalf("upload: expected WrongDepartment, got %v", err)
	}

	// a step override token opens exactly that step
	finFull.Permissions = []string{perm.StepOverrideToken("2.1")}
	if _, err := env.Engine.BlockStep(env.Ctx, finFull, s.ID, "2.1", "bayan rejected"); err != nil {
		t.Fatalf("block with step override: %v", err)
	}
	if _, err := env.Engine.UploadDocument(env.Ctx, finFull, s.ID, "2.1", "bayan.pdf"); err != nil {
		t.Fatalf("upload with step override: %v", err)
	}
}

func TestConcurrentCompleteStepSerializes(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.Engine.CompleteStep(env.Ctx, buUser, s.ID, "1.1", workflow.CompleteStepOptions{})
		}()
	}
	wg.Wait()
	if trail := env.Ledger.TrailFor("workflow_step", s.ID+"/1.1"); len(trail) != 1 {
		t.Fatalf("exactly one completion must be audited, got %d", len(trail))
	}
}

func TestAuditExportThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	s := env.createShipment(t, "2025-03-15")
	env.complete(t, buUser, s.ID, "1.1", nil)

	out, err := env.Engine.ExportAuditLogs(admin, audit.Filters{}, ';')
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out == "" {
		t.Fatalf("expected export output")
	}
	exports := env.Ledger.Query(audit.Filters{Action: audit.ActionExport})
	if len(exports) != 1 {
		t.Fatalf("export must be audited, got %d entries", len(exports))
	}
}
