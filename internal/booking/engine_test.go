package booking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/garagebot-core/server/internal/booking/checkpoint"
	"github.com/garagebot-core/server/internal/booking/extract"
	"github.com/garagebot-core/server/internal/booking/extract/fallback"
	"github.com/garagebot-core/server/internal/booking/lock"
	"github.com/garagebot-core/server/internal/booking/state"
	"github.com/garagebot-core/server/internal/booking/steps"
	errx "github.com/garagebot-core/server/internal/core/error"
)

// newTestEngine builds an engine on in-memory infrastructure with the
// deterministic extraction tier only. mutate tweaks the flow deps before
// the graph compiles.
func newTestEngine(t *testing.T, store checkpoint.Store, locker lock.Locker, mutate func(*steps.Deps)) *Engine {
	t.Helper()

	deps := steps.Deps{
		Pipeline: extract.NewPipeline(nil, fallback.Defaults(), extract.Config{
			FallbackConfidence: map[string]float64{
				"phone": 0.9, "confirmation": 0.85, "vehicle": 0.8, "name": 0.6,
			},
			DefaultTier2Percent: 0.6,
		}),
		Catalog: steps.NewStaticCatalog(),
		Slots:   steps.NewStaticSlots(),
		Backend: steps.NewMemoryBackend(),
		Config:  steps.Config{GarageName: "Test Garage", MaxSelectionRetries: 3},
	}
	if mutate != nil {
		mutate(&deps)
	}

	runner, err := steps.Build(deps)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return NewEngine(locker, store, runner, steps.StepNew, Config{LockTTL: time.Minute})
}

func turn(t *testing.T, e *Engine, conversationID, text string) Result {
	t.Helper()
	res, err := e.HandleTurn(context.Background(), conversationID, text)
	if err != nil {
		t.Fatalf("turn %q: %v", text, err)
	}
	return res
}

func advanceToServiceMenu(t *testing.T, e *Engine, id string) {
	t.Helper()
	turn(t, e, id, "hi")
	turn(t, e, id, "Rahul Sharma")
	turn(t, e, id, "9876543210")
	turn(t, e, id, "Hyundai")
}

func advanceToConfirmation(t *testing.T, e *Engine, id string) {
	t.Helper()
	advanceToServiceMenu(t, e, id)
	turn(t, e, id, "2")
	turn(t, e, id, "1")
}

func TestHappyPathBooking(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-happy"

	res := turn(t, e, id, "hi")
	if res.Step != steps.StepAwaitingName {
		t.Fatalf("after greeting step = %s, want awaiting_name", res.Step)
	}
	if !res.Suspended {
		t.Fatal("greeting turn must suspend awaiting input")
	}
	if !strings.Contains(res.Reply, "name") {
		t.Errorf("greeting reply does not ask for a name: %q", res.Reply)
	}
	if res.Version != 1 {
		t.Errorf("first version = %d, want 1", res.Version)
	}

	res = turn(t, e, id, "Rahul Sharma")
	if res.Step != steps.StepAwaitingPhone {
		t.Fatalf("after name step = %s, want awaiting_phone", res.Step)
	}

	res = turn(t, e, id, "9876543210")
	if res.Step != steps.StepAwaitingVehicle {
		t.Fatalf("after phone step = %s, want awaiting_vehicle", res.Step)
	}

	res = turn(t, e, id, "it's a Hyundai")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("after vehicle step = %s, want awaiting_service_selection", res.Step)
	}
	if !strings.Contains(res.Reply, "1.") {
		t.Errorf("service menu is not numbered: %q", res.Reply)
	}

	res = turn(t, e, id, "2")
	if res.Step != steps.StepAwaitingSlot {
		t.Fatalf("after service step = %s, want awaiting_slot_selection", res.Step)
	}

	res = turn(t, e, id, "1")
	if res.Step != steps.StepAwaitingConfirmation {
		t.Fatalf("after slot step = %s, want awaiting_confirmation", res.Step)
	}
	if !strings.Contains(res.Reply, "Rahul Sharma") || !strings.Contains(res.Reply, "9876543210") {
		t.Errorf("summary is missing collected data: %q", res.Reply)
	}

	res = turn(t, e, id, "yes")
	if res.Step != steps.StepAwaitingPayment {
		t.Fatalf("after confirmation step = %s, want awaiting_payment", res.Step)
	}
	if !strings.Contains(res.Reply, "SRV-0001") {
		t.Errorf("booking reference missing from reply: %q", res.Reply)
	}

	res = turn(t, e, id, "no, I'll pay at the garage")
	if res.Step != steps.StepDone {
		t.Fatalf("final step = %s, want done", res.Step)
	}
	if res.Suspended {
		t.Error("terminated flow must not report suspended")
	}
	if res.Version != 8 {
		t.Errorf("final version = %d, want one commit per turn (8)", res.Version)
	}

	final, err := e.GetState(ctx, id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathFirstName); got != "Rahul" {
		t.Errorf("first name = %q, want Rahul", got)
	}
	if got := final.StringField(steps.PathPhone); got != "9876543210" {
		t.Errorf("phone = %q", got)
	}
	if got := final.StringField(steps.PathServiceID); got != "svc-full" {
		t.Errorf("service = %q, want svc-full", got)
	}
	if got := final.StringField(steps.PathBookingID); got != "SRV-0001" {
		t.Errorf("booking id = %q, want SRV-0001", got)
	}
	if final.Completeness != 1 {
		t.Errorf("completeness = %v, want 1", final.Completeness)
	}
}

func TestIdentityCollectionScenario(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-identity"

	turn(t, e, id, "hi")
	turn(t, e, id, "John Doe")
	res := turn(t, e, id, "9876543210")

	if res.Step != steps.StepAwaitingVehicle {
		t.Fatalf("step = %s, identity collection did not advance", res.Step)
	}

	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathFirstName); got != "John" {
		t.Errorf("first name = %q, want John", got)
	}
	if got := final.StringField(steps.PathLastName); got != "Doe" {
		t.Errorf("last name = %q, want Doe", got)
	}
	if got := final.StringField(steps.PathPhone); got != "9876543210" {
		t.Errorf("phone = %q, want 9876543210", got)
	}
}

func TestEmailCapturedAlongsidePhone(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-email"

	turn(t, e, id, "hi")
	turn(t, e, id, "Rahul Sharma")
	res := turn(t, e, id, "9876543210, email is rahul@example.com")
	if res.Step != steps.StepAwaitingVehicle {
		t.Fatalf("step = %s, want awaiting_vehicle", res.Step)
	}

	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathPhone); got != "9876543210" {
		t.Errorf("phone = %q, want 9876543210", got)
	}
	if got := final.StringField(steps.PathEmail); got != "rahul@example.com" {
		t.Errorf("email = %q, want rahul@example.com", got)
	}
}

// slotRequestRecorder captures the date preference handed to the slot
// provider.
type slotRequestRecorder struct {
	steps.SlotProvider
	datePreference string
}

func (p *slotRequestRecorder) Available(ctx context.Context, serviceID, datePreference string) ([]steps.Slot, error) {
	p.datePreference = datePreference
	return p.SlotProvider.Available(ctx, serviceID, datePreference)
}

func TestDatePreferenceReachesSlotLookup(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	recorder := &slotRequestRecorder{SlotProvider: steps.NewStaticSlots()}
	e := newTestEngine(t, store, lock.NewMemoryLocker(), func(d *steps.Deps) {
		d.Slots = recorder
	})
	id := "conv-datepref"

	turn(t, e, id, "hi")
	turn(t, e, id, "Rahul Sharma")
	turn(t, e, id, "9876543210")
	// The schedule hint rides along with the vehicle answer.
	res := turn(t, e, id, "it's a Hyundai, tomorrow morning")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("step = %s, want awaiting_service_selection", res.Step)
	}

	turn(t, e, id, "2")
	if recorder.datePreference != "tomorrow" {
		t.Errorf("slot lookup date preference = %q, want tomorrow", recorder.datePreference)
	}

	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathDatePref); got != "tomorrow" {
		t.Errorf("stored date preference = %q, want tomorrow", got)
	}
}

func TestExplicitDeclineCancelsInsteadOfLooping(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-decline"

	advanceToConfirmation(t, e, id)

	res := turn(t, e, id, "no")
	if res.Step != steps.StepCancelled {
		t.Fatalf("step = %s, want cancelled", res.Step)
	}
	if res.Suspended {
		t.Error("cancellation must terminate the flow")
	}

	// The explicit decline is stored as present-false, not dropped.
	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	fv, ok := final.Get(steps.PathConfirmed)
	if !ok {
		t.Fatal("decline was not recorded")
	}
	if confirmed, isBool := fv.Value.Bool(); !isBool || confirmed {
		t.Errorf("confirmed = %v, want present-false", fv.Value)
	}
	if got := final.StringField(steps.PathBookingID); got != "" {
		t.Errorf("booking created despite decline: %q", got)
	}
}

func TestUnclearReplyRepromptsWithoutLosingData(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-reprompt"

	turn(t, e, id, "hi")
	turn(t, e, id, "Rahul Sharma")

	// Unparseable phone reprompts at the same step.
	res := turn(t, e, id, "you already have it")
	if res.Step != steps.StepAwaitingPhone {
		t.Fatalf("step = %s, want awaiting_phone reprompt", res.Step)
	}
	if !res.Suspended {
		t.Fatal("reprompt must suspend")
	}

	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathFullName); got != "Rahul Sharma" {
		t.Errorf("earlier field lost on reprompt: %q", got)
	}

	// A valid answer after the reprompt moves on.
	res = turn(t, e, id, "9876543210")
	if res.Step != steps.StepAwaitingVehicle {
		t.Fatalf("step = %s, want awaiting_vehicle", res.Step)
	}
}

func TestRepeatedSelectionFailuresEscalate(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-escalate"

	advanceToServiceMenu(t, e, id)

	res := turn(t, e, id, "the cheapest")
	if res.Step != steps.StepAwaitingService || !res.Suspended {
		t.Fatalf("first bad selection: step = %s, suspended = %v", res.Step, res.Suspended)
	}
	if !strings.Contains(res.Reply, "1 to 4") {
		t.Errorf("retry message missing bounds: %q", res.Reply)
	}

	res = turn(t, e, id, "99")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("second bad selection: step = %s", res.Step)
	}

	res = turn(t, e, id, "whatever")
	if res.Step != steps.StepHandoff {
		t.Fatalf("third bad selection: step = %s, want human_handoff", res.Step)
	}
	if res.Suspended {
		t.Error("handoff must terminate the flow")
	}
}

func TestEscalatedHandoffCommitsNoPendingMenu(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-handoff-menu"

	advanceToServiceMenu(t, e, id)
	turn(t, e, id, "the cheapest")
	turn(t, e, id, "99")
	turn(t, e, id, "whatever")

	// Pending options only make sense while a selection step awaits the
	// answer; the escalated terminal state must not carry them.
	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if final.CurrentStep != steps.StepHandoff {
		t.Fatalf("step = %s, want human_handoff", final.CurrentStep)
	}
	if n := len(final.PendingOptions); n != 0 {
		t.Errorf("committed handoff state carries %d pending options", n)
	}
}

func TestHandoffReentryResetsFailureCounters(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-handoff-retry"

	advanceToServiceMenu(t, e, id)
	turn(t, e, id, "the cheapest")
	turn(t, e, id, "99")
	turn(t, e, id, "whatever")

	// A message after the handoff starts a fresh cycle; identity is
	// kept, so the flow jumps straight back to the service menu.
	res := turn(t, e, id, "hi, let me try again")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("re-entry step = %s, want awaiting_service_selection", res.Step)
	}

	// One slip in the new cycle reprompts; the old cycle's failures must
	// not count towards escalation again.
	res = turn(t, e, id, "the cheapest")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("step = %s, want awaiting_service_selection reprompt", res.Step)
	}
	if !res.Suspended {
		t.Error("reprompt must suspend, not escalate")
	}
}

func TestFreeTextMatchesMenuOption(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-label"

	advanceToServiceMenu(t, e, id)

	res := turn(t, e, id, "full service")
	if res.Step != steps.StepAwaitingSlot {
		t.Fatalf("step = %s, want awaiting_slot_selection", res.Step)
	}

	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathServiceID); got != "svc-full" {
		t.Errorf("service = %q, want svc-full", got)
	}
}

func TestResumeAcrossProcessRestart(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	locker := lock.NewMemoryLocker()
	id := "conv-restart"

	first := newTestEngine(t, store, locker, nil)
	turn(t, first, id, "hi")
	turn(t, first, id, "Rahul Sharma")
	turn(t, first, id, "9876543210")

	// A new engine over the same store simulates a process restart.
	second := newTestEngine(t, store, locker, nil)
	res := turn(t, second, id, "Hyundai")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("resumed step = %s, want awaiting_service_selection", res.Step)
	}

	final, err := second.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathFullName); got != "Rahul Sharma" {
		t.Errorf("name lost across restart: %q", got)
	}
	if got := final.StringField(steps.PathPhone); got != "9876543210" {
		t.Errorf("phone lost across restart: %q", got)
	}
}

func TestLockBusySurfacesImmediately(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	locker := lock.NewMemoryLocker()
	e := newTestEngine(t, store, locker, nil)
	id := "conv-busy"

	token, err := locker.Acquire(context.Background(), id, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err = e.HandleTurn(context.Background(), id, "hi")
	if !errors.Is(err, errx.ErrLockBusy) {
		t.Fatalf("err = %v, want ErrLockBusy", err)
	}

	if err := locker.Release(context.Background(), id, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := e.HandleTurn(context.Background(), id, "hi"); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

// conflictOnceStore fails the first Save with a version conflict and
// then delegates, simulating a lock-bypass race the engine must absorb.
type conflictOnceStore struct {
	checkpoint.Store
	fired bool
}

func (s *conflictOnceStore) Save(ctx context.Context, id string, expected int64, snap *state.Conversation) (int64, error) {
	if !s.fired {
		s.fired = true
		return 0, errx.ErrVersionConflict
	}
	return s.Store.Save(ctx, id, expected, snap)
}

func TestVersionConflictReloadsAndRetriesOnce(t *testing.T) {
	store := &conflictOnceStore{Store: checkpoint.NewMemoryStore()}
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)

	res, err := e.HandleTurn(context.Background(), "conv-conflict", "hi")
	if err != nil {
		t.Fatalf("turn should survive a single conflict: %v", err)
	}
	if res.Version != 1 {
		t.Errorf("version = %d, want 1", res.Version)
	}
}

// failingBackend rejects bookings.
type failingBackend struct{}

func (failingBackend) CreateBooking(context.Context, steps.BookingRequest) (string, error) {
	return "", errors.New("erp unavailable")
}

func TestNodeErrorAbortsWithoutCommit(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), func(d *steps.Deps) {
		d.Backend = failingBackend{}
	})
	id := "conv-backend-down"

	advanceToConfirmation(t, e, id)

	before, _ := e.GetState(context.Background(), id)
	if _, err := e.HandleTurn(context.Background(), id, "yes"); err == nil {
		t.Fatal("want error when the backend is down")
	}

	// The failed turn must not have committed anything.
	after, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if after.Version != before.Version {
		t.Errorf("version moved from %d to %d on a failed turn", before.Version, after.Version)
	}
	if after.CurrentStep != steps.StepAwaitingConfirmation {
		t.Errorf("step = %s, want still awaiting_confirmation", after.CurrentStep)
	}
}

func TestNewCycleAfterCompletionKeepsIdentity(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store, lock.NewMemoryLocker(), nil)
	id := "conv-repeat"

	advanceToConfirmation(t, e, id)
	turn(t, e, id, "yes")
	turn(t, e, id, "no")

	// A message after completion starts a fresh cycle: selections are
	// cleared, identity is kept, so the flow jumps straight to services.
	res := turn(t, e, id, "hi again")
	if res.Step != steps.StepAwaitingService {
		t.Fatalf("step = %s, want awaiting_service_selection", res.Step)
	}

	final, err := e.GetState(context.Background(), id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := final.StringField(steps.PathFullName); got != "Rahul Sharma" {
		t.Errorf("identity lost on new cycle: %q", got)
	}
	if _, ok := final.Get(steps.PathServiceID); ok {
		t.Error("previous cycle's service selection survived the reset")
	}
	if _, ok := final.Get(steps.PathBookingID); ok {
		t.Error("previous cycle's booking id survived the reset")
	}
}

func TestBookingIsIdempotentPerConversation(t *testing.T) {
	backend := steps.NewMemoryBackend()
	req := steps.BookingRequest{ConversationID: "conv-1", ServiceID: "svc-basic"}

	first, err := backend.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := backend.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first != second {
		t.Errorf("replayed booking got a new id: %q vs %q", first, second)
	}
}
