package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/garagebot-core/server/internal/booking/extract"
	"github.com/garagebot-core/server/internal/booking/flow"
	"github.com/garagebot-core/server/internal/booking/selection"
	"github.com/garagebot-core/server/internal/booking/state"
	errx "github.com/garagebot-core/server/internal/core/error"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// Config holds flow-level tunables.
type Config struct {
	GarageName          string `envconfig:"FLOW_GARAGE_NAME" default:"GarageBot Auto Care"`
	MaxSelectionRetries int    `envconfig:"FLOW_MAX_SELECTION_RETRIES" default:"3"`
}

// Deps are the collaborators the booking nodes need.
type Deps struct {
	Pipeline *extract.Pipeline
	Catalog  ServiceCatalog
	Slots    SlotProvider
	Backend  BookingBackend
	Config   Config
}

// extractOne runs the pipeline for a single target against the latest
// user message.
func (d Deps) extractOne(ctx context.Context, c *state.Conversation, fs extract.FieldSchema) (extract.Result, bool) {
	results := d.Pipeline.Extract(ctx, c.LastUserText(), c.History, []extract.FieldSchema{fs})
	if len(results) == 0 {
		return extract.Result{}, false
	}
	return results[0], true
}

// extractInto runs the pipeline for several targets and merges every
// result. It reports whether the required path resolved; the other
// targets are opportunistic captures that never block the step.
func (d Deps) extractInto(ctx context.Context, c *state.Conversation, required state.Path, schemas []extract.FieldSchema) bool {
	ok := false
	for _, r := range d.Pipeline.Extract(ctx, c.LastUserText(), c.History, schemas) {
		extract.Apply(c, r)
		if r.Path == required && r.Value.Present() {
			ok = true
		}
	}
	return ok
}

// reprompt re-suspends at the same awaiting step with a clarification.
// The consecutive-failure counter decides when the router escalates to
// the human handoff instead.
func (d Deps) reprompt(c *state.Conversation, step state.Step, clarification string) flow.Signal {
	n := c.Retry(step)
	if n >= d.Config.MaxSelectionRetries {
		logx.Warn().
			Str("conversation_id", c.ConversationID).
			Str("step", string(step)).
			Int("failures", n).
			Msg("escalating after repeated failures")
		return flow.Continue
	}
	c.Reply(clarification)
	c.CurrentStep = step
	return flow.Suspend
}

// escalating wraps a router so repeated failures at step divert to the
// human handoff node.
func (d Deps) escalating(step state.Step, next flow.RouterFunc) flow.RouterFunc {
	return func(c *state.Conversation) string {
		if c.Retries[step] >= d.Config.MaxSelectionRetries {
			return nodeHandoff
		}
		return next(c)
	}
}

// identityRouter advances to the first missing piece of the booking.
func (d Deps) identityRouter() flow.RouterFunc {
	return func(c *state.Conversation) string {
		switch {
		case !c.Resolved(PathFullName):
			return nodeAskName
		case !c.Resolved(PathPhone):
			return nodeAskPhone
		case !c.Resolved(PathVehicleBrand):
			return nodeAskVehicle
		default:
			return nodeFetchServices
		}
	}
}

// NewGreetNode greets on first contact and resets the booking cycle
// when a finished conversation is re-entered.
func (d Deps) NewGreetNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		switch c.CurrentStep {
		case StepDone, StepCancelled, StepHandoff:
			c.Unset(PathServiceID, PathServiceLabel, PathSlotID, PathSlotLabel,
				PathTotalPrice, PathConfirmed, PathPaid, PathBookingID)
			c.PendingOptions = nil
			// Failure counters belong to the finished cycle; carrying them
			// over would re-escalate on the first slip of the new one.
			c.Retries = map[state.Step]int{}
			c.RecomputeCompleteness(CompletenessWeights)
			c.Reply(fmt.Sprintf("Welcome back to %s! Let's get you another booking.", d.Config.GarageName))
		default:
			if len(c.History) <= 1 {
				c.Reply(fmt.Sprintf("Hi! Welcome to %s. I can book your car service in a couple of minutes.", d.Config.GarageName))
			}
		}
		return flow.Continue, nil
	}
}

func (d Deps) NewAskNameNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		c.Reply("May I know your name, please?")
		c.CurrentStep = StepAwaitingName
		return flow.Suspend, nil
	}
}

// NewCollectNameNode resolves the customer name and splits it into
// first and last name leaves.
func (d Deps) NewCollectNameNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		res, ok := d.extractOne(ctx, c, extract.FieldSchema{
			Path:   PathFullName,
			Family: "name",
			Hint:   "the customer's name",
		})
		if !ok {
			c.AddError("name_unclear")
			return d.reprompt(c, StepAwaitingName, "Sorry, I didn't catch your name. Could you tell me again?"), nil
		}

		extract.Apply(c, res)
		if full, isStr := res.Value.String(); isStr {
			parts := strings.Fields(full)
			c.SetIfPresent(PathFirstName, state.Of(parts[0]), res.Confidence, res.Tier)
			if len(parts) > 1 {
				c.SetIfPresent(PathLastName, state.Of(strings.Join(parts[1:], " ")), res.Confidence, res.Tier)
			}
		}
		c.ResetRetry(StepAwaitingName)
		c.RecomputeCompleteness(CompletenessWeights)
		return flow.Continue, nil
	}
}

func (d Deps) NewAskPhoneNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		greetName := c.StringField(PathFirstName)
		if greetName != "" {
			c.Reply(fmt.Sprintf("Thanks, %s! What's the best phone number to reach you on?", greetName))
		} else {
			c.Reply("What's the best phone number to reach you on?")
		}
		c.CurrentStep = StepAwaitingPhone
		return flow.Suspend, nil
	}
}

// NewCollectPhoneNode resolves the phone number. The deterministic tier
// runs first: a ten digit number needs no model call. An email address
// in the same message is captured opportunistically.
func (d Deps) NewCollectPhoneNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		ok := d.extractInto(ctx, c, PathPhone, []extract.FieldSchema{
			{
				Path:          PathPhone,
				Family:        "phone",
				Hint:          "the customer's mobile number",
				FallbackFirst: true,
			},
			{
				Path:          PathEmail,
				Family:        "email",
				Hint:          "the customer's email address",
				FallbackFirst: true,
			},
		})
		if !ok {
			c.AddError("phone_unclear")
			return d.reprompt(c, StepAwaitingPhone, "That doesn't look like a valid mobile number. Please send a 10-digit number."), nil
		}

		c.ResetRetry(StepAwaitingPhone)
		c.RecomputeCompleteness(CompletenessWeights)
		return flow.Continue, nil
	}
}

func (d Deps) NewAskVehicleNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		c.Reply("Which car should we service? (brand is enough, e.g. Honda, Tata, Hyundai)")
		c.CurrentStep = StepAwaitingVehicle
		return flow.Suspend, nil
	}
}

// NewCollectVehicleNode resolves the vehicle brand. A schedule hint in
// the same message ("tomorrow morning") is captured as the date
// preference and narrows the slot menu later.
func (d Deps) NewCollectVehicleNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		ok := d.extractInto(ctx, c, PathVehicleBrand, []extract.FieldSchema{
			{
				Path:   PathVehicleBrand,
				Family: "vehicle",
				Hint:   "the vehicle brand",
			},
			{
				Path:          PathDatePref,
				Family:        "date",
				Hint:          "when the customer wants the service",
				FallbackFirst: true,
			},
		})
		if !ok {
			c.AddError("vehicle_unclear")
			return d.reprompt(c, StepAwaitingVehicle, "Sorry, I didn't recognise that car. Which brand is it?"), nil
		}

		c.ResetRetry(StepAwaitingVehicle)
		c.RecomputeCompleteness(CompletenessWeights)
		return flow.Continue, nil
	}
}

// NewFetchServicesNode presents the service menu and suspends.
func (d Deps) NewFetchServicesNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		services, err := d.Catalog.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("list services: %w", err)
		}
		if len(services) == 0 {
			c.Reply("Sorry, we can't take bookings right now. Our team will reach out to you.")
			return flow.Continue, nil // routed to handoff
		}

		options := make([]state.Option, len(services))
		for i, svc := range services {
			options[i] = state.Option{ID: svc.ID, Label: svc.Name}
		}
		c.PendingOptions = options
		c.Reply(selection.FormatMenu("Which service would you like?", options))
		c.CurrentStep = StepAwaitingService
		return flow.Suspend, nil
	}
}

// NewResolveServiceNode captures the service choice against the live
// option list, with a free-text match through the option labels before
// giving up on the reply.
func (d Deps) NewResolveServiceNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		text := c.LastUserText()
		idx, err := selection.ResolveOne(text, c.PendingOptions)
		if err != nil {
			if fallbackIdx, ok := matchOptionLabel(text, c.PendingOptions); ok {
				idx = fallbackIdx
			} else {
				c.AddError(fmt.Sprintf("service_selection: %v", err))
				return d.reprompt(c, StepAwaitingService, selection.RetryMessage(len(c.PendingOptions))), nil
			}
		}

		chosen := c.PendingOptions[idx]
		c.SetIfPresent(PathServiceID, state.Of(chosen.ID), 1, state.TierNone)
		c.SetIfPresent(PathServiceLabel, state.Of(chosen.Label), 1, state.TierNone)

		if svc, ok := d.lookupService(ctx, chosen.ID); ok {
			c.SetIfPresent(PathTotalPrice, state.Of(svc.Price), 1, state.TierNone)
		}

		c.PendingOptions = nil
		c.ResetRetry(StepAwaitingService)
		c.RecomputeCompleteness(CompletenessWeights)
		return flow.Continue, nil
	}
}

func (d Deps) lookupService(ctx context.Context, id string) (Service, bool) {
	services, err := d.Catalog.List(ctx)
	if err != nil {
		return Service{}, false
	}
	for _, svc := range services {
		if svc.ID == id {
			return svc, true
		}
	}
	return Service{}, false
}

// NewFetchSlotsNode presents the slot menu for the chosen service,
// scoped to the customer's date preference when one was mentioned.
func (d Deps) NewFetchSlotsNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		if !c.Resolved(PathDatePref) {
			if res, ok := d.extractOne(ctx, c, extract.FieldSchema{
				Path:          PathDatePref,
				Family:        "date",
				Hint:          "when the customer wants the service",
				FallbackFirst: true,
			}); ok {
				extract.Apply(c, res)
			}
		}

		slots, err := d.Slots.Available(ctx, c.StringField(PathServiceID), c.StringField(PathDatePref))
		if err != nil {
			return 0, fmt.Errorf("list slots: %w", err)
		}
		if len(slots) == 0 {
			c.Reply("Sorry, no slots are open right now. Our team will call you to schedule.")
			return flow.Continue, nil // routed to handoff
		}

		options := make([]state.Option, len(slots))
		for i, slot := range slots {
			options[i] = state.Option{ID: slot.ID, Label: slot.Label}
		}
		c.PendingOptions = options
		c.Reply(selection.FormatMenu("When should we expect your car?", options))
		c.CurrentStep = StepAwaitingSlot
		return flow.Suspend, nil
	}
}

func (d Deps) NewResolveSlotNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		text := c.LastUserText()
		idx, err := selection.ResolveOne(text, c.PendingOptions)
		if err != nil {
			if fallbackIdx, ok := matchOptionLabel(text, c.PendingOptions); ok {
				idx = fallbackIdx
			} else {
				c.AddError(fmt.Sprintf("slot_selection: %v", err))
				return d.reprompt(c, StepAwaitingSlot, selection.RetryMessage(len(c.PendingOptions))), nil
			}
		}

		chosen := c.PendingOptions[idx]
		c.SetIfPresent(PathSlotID, state.Of(chosen.ID), 1, state.TierNone)
		c.SetIfPresent(PathSlotLabel, state.Of(chosen.Label), 1, state.TierNone)

		c.PendingOptions = nil
		c.ResetRetry(StepAwaitingSlot)
		c.RecomputeCompleteness(CompletenessWeights)
		return flow.Continue, nil
	}
}

// NewSummarizeNode validates collected data, presents the booking
// summary and asks for confirmation.
func (d Deps) NewSummarizeNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		for _, path := range requiredForBooking {
			if !c.Resolved(path) {
				// A required leaf resolved to absent means collected data
				// was lost; committing this state would bake the loss in.
				return 0, fmt.Errorf("required field %s unresolved at confirmation: %w", path, errx.ErrStateCorruption)
			}
		}
		c.RecomputeCompleteness(CompletenessWeights)

		var price string
		if total, ok := priceOf(c); ok {
			price = fmt.Sprintf("\nTotal: ₹%.0f", total)
		}
		c.Reply(fmt.Sprintf(
			"Here's your booking:\nName: %s\nPhone: %s\nCar: %s\nService: %s\nSlot: %s%s\n\nShall I confirm? (yes/no)",
			c.StringField(PathFullName),
			c.StringField(PathPhone),
			c.StringField(PathVehicleBrand),
			c.StringField(PathServiceLabel),
			c.StringField(PathSlotLabel),
			price,
		))
		c.CurrentStep = StepAwaitingConfirmation
		return flow.Suspend, nil
	}
}

// NewResolveConfirmationNode captures the yes/no answer. An explicit
// "no" is present-false and routes to cancellation; only a genuine miss
// reprompts.
func (d Deps) NewResolveConfirmationNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		res, ok := d.extractOne(ctx, c, extract.FieldSchema{
			Path:          PathConfirmed,
			Family:        "confirmation",
			Hint:          "whether the customer confirms the booking",
			FallbackFirst: true,
		})
		if !ok {
			c.AddError("confirmation_unclear")
			return d.reprompt(c, StepAwaitingConfirmation, "Just to be sure — should I confirm the booking? Please reply yes or no."), nil
		}

		extract.Apply(c, res)
		c.ResetRetry(StepAwaitingConfirmation)
		return flow.Continue, nil
	}
}

// confirmationRouter routes on the tri-state answer. It only runs after
// the confirmation leaf is present.
func (d Deps) confirmationRouter() flow.RouterFunc {
	return func(c *state.Conversation) string {
		if fv, ok := c.Get(PathConfirmed); ok {
			if confirmed, isBool := fv.Value.Bool(); isBool && confirmed {
				return nodeCreateBooking
			}
		}
		return nodeCancel
	}
}

// NewCreateBookingNode creates the booking through the backend and asks
// about payment. The backend is idempotent per conversation, so a
// replayed turn cannot double-book.
func (d Deps) NewCreateBookingNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		total, _ := priceOf(c)
		req := BookingRequest{
			ConversationID: c.ConversationID,
			CustomerName:   c.StringField(PathFullName),
			Phone:          c.StringField(PathPhone),
			VehicleBrand:   c.StringField(PathVehicleBrand),
			ServiceID:      c.StringField(PathServiceID),
			SlotID:         c.StringField(PathSlotID),
			TotalPrice:     total,
		}
		bookingID, err := d.Backend.CreateBooking(ctx, req)
		if err != nil {
			return 0, fmt.Errorf("create booking: %w", err)
		}

		c.SetIfPresent(PathBookingID, state.Of(bookingID), 1, state.TierNone)
		logx.Info().
			Str("conversation_id", c.ConversationID).
			Str("booking_id", bookingID).
			Msg("booking created")

		c.Reply(fmt.Sprintf("Booked! Your reference is %s.\nWould you like to pay online now? (yes/no)", bookingID))
		c.CurrentStep = StepAwaitingPayment
		return flow.Suspend, nil
	}
}

// NewResolvePaymentNode captures the payment preference. Either answer
// completes the flow; only an unclear reply reprompts.
func (d Deps) NewResolvePaymentNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		res, ok := d.extractOne(ctx, c, extract.FieldSchema{
			Path:          PathPaid,
			Family:        "confirmation",
			Hint:          "whether the customer wants to pay online now",
			FallbackFirst: true,
		})
		if !ok {
			c.AddError("payment_unclear")
			return d.reprompt(c, StepAwaitingPayment, "Would you like to pay online now? Please reply yes or no."), nil
		}

		extract.Apply(c, res)
		if paid, isBool := res.Value.Bool(); isBool && paid {
			c.Reply("Great — we've sent a payment link to your number.")
		} else {
			c.Reply("No problem, you can pay at the garage.")
		}
		c.ResetRetry(StepAwaitingPayment)
		return flow.Continue, nil
	}
}

func (d Deps) NewCompleteNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		c.Reply(fmt.Sprintf("All set — see you at %s! Reference: %s.",
			c.StringField(PathSlotLabel), c.StringField(PathBookingID)))
		c.PendingOptions = nil
		c.CurrentStep = StepDone
		return flow.Terminate, nil
	}
}

func (d Deps) NewCancelNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		c.Reply("Okay, I've cancelled this booking. Message me any time to start again.")
		c.PendingOptions = nil
		c.CurrentStep = StepCancelled
		return flow.Terminate, nil
	}
}

// NewHandoffNode escalates to a human after repeated failures.
func (d Deps) NewHandoffNode() flow.NodeFunc {
	return func(ctx context.Context, c *state.Conversation) (flow.Signal, error) {
		logx.Warn().
			Str("conversation_id", c.ConversationID).
			Str("step", string(c.CurrentStep)).
			Msg("Human intervention required")
		c.Reply("I'm having trouble here — one of our team members will message you shortly.")
		// A menu is only pending while a selection step awaits the answer;
		// a terminal step must not commit one.
		c.PendingOptions = nil
		c.CurrentStep = StepHandoff
		return flow.Terminate, nil
	}
}

// matchOptionLabel is the free-text tier of menu capture: a reply that
// names an option uniquely counts as selecting it.
func matchOptionLabel(text string, options []state.Option) (int, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if len(needle) < 3 {
		return 0, false
	}
	found := -1
	for i, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), needle) {
			if found >= 0 {
				return 0, false // ambiguous
			}
			found = i
		}
	}
	return found, found >= 0
}

func priceOf(c *state.Conversation) (float64, bool) {
	fv, ok := c.Get(PathTotalPrice)
	if !ok {
		return 0, false
	}
	return fv.Value.Float()
}
