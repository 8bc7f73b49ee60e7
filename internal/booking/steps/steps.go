// Package steps wires the garage booking flow: collect identity, collect
// vehicle, pick a service, pick a slot, confirm, pay. Each business step
// is one or more flow nodes; all control logic lives in the graph engine
// and the shared resume router.
package steps

import "github.com/garagebot-core/server/internal/booking/state"

// Awaiting and terminal step values. StepNew marks a conversation with
// no committed turns yet; it is deliberately absent from the entry
// table so it enters through the default greeting path.
const (
	StepNew                  state.Step = "new"
	StepAwaitingName         state.Step = "awaiting_name"
	StepAwaitingPhone        state.Step = "awaiting_phone"
	StepAwaitingVehicle      state.Step = "awaiting_vehicle"
	StepAwaitingService      state.Step = "awaiting_service_selection"
	StepAwaitingSlot         state.Step = "awaiting_slot_selection"
	StepAwaitingConfirmation state.Step = "awaiting_confirmation"
	StepAwaitingPayment      state.Step = "awaiting_payment"
	StepDone                 state.Step = "done"
	StepCancelled            state.Step = "cancelled"
	StepHandoff              state.Step = "human_handoff"
)

// Node ids.
const (
	nodeGreet          = "greet"
	nodeAskName        = "ask_name"
	nodeCollectName    = "collect_name"
	nodeAskPhone       = "ask_phone"
	nodeCollectPhone   = "collect_phone"
	nodeAskVehicle     = "ask_vehicle"
	nodeCollectVehicle = "collect_vehicle"
	nodeFetchServices  = "fetch_services"
	nodeResolveService = "resolve_service"
	nodeFetchSlots     = "fetch_slots"
	nodeResolveSlot    = "resolve_slot"
	nodeSummarize      = "summarize"
	nodeResolveConfirm = "resolve_confirmation"
	nodeCreateBooking  = "create_booking"
	nodeResolvePayment = "resolve_payment"
	nodeComplete       = "complete"
	nodeCancel         = "cancel"
	nodeHandoff        = "handoff"
)

// Field paths.
const (
	PathFullName     state.Path = "customer.full_name"
	PathFirstName    state.Path = "customer.first_name"
	PathLastName     state.Path = "customer.last_name"
	PathPhone        state.Path = "customer.phone"
	PathEmail        state.Path = "customer.email"
	PathVehicleBrand state.Path = "vehicle.brand"
	PathServiceID    state.Path = "selections.service_id"
	PathServiceLabel state.Path = "selections.service_label"
	PathSlotID       state.Path = "appointment.slot_id"
	PathSlotLabel    state.Path = "appointment.slot_label"
	PathDatePref     state.Path = "appointment.date_preference"
	PathTotalPrice   state.Path = "pricing.total"
	PathConfirmed    state.Path = "confirmed"
	PathPaid         state.Path = "payment.acknowledged"
	PathBookingID    state.Path = "booking.id"
)

// CompletenessWeights drive the readiness threshold for confirmation.
var CompletenessWeights = map[state.Path]float64{
	PathFirstName:    0.2,
	PathPhone:        0.2,
	PathVehicleBrand: 0.2,
	PathServiceID:    0.2,
	PathSlotID:       0.2,
}

// requiredForBooking are the paths that must carry an explicit value
// before a booking may be created.
var requiredForBooking = []state.Path{
	PathFirstName,
	PathPhone,
	PathVehicleBrand,
	PathServiceID,
	PathSlotID,
}
