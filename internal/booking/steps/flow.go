package steps

import (
	"fmt"

	"github.com/garagebot-core/server/internal/booking/flow"
	"github.com/garagebot-core/server/internal/booking/state"
)

// Build compiles the garage booking graph.
//
// Entry is resolved from the suspended step: every awaiting step routes
// through a shared resume router that checks the expected input still
// exists before resuming, and falls back to the fresh path otherwise.
func Build(d Deps) (*flow.Runner, error) {
	identity := d.identityRouter()

	entry := flow.NewEntryTable(nodeGreet).
		On(StepAwaitingName, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "name_entry",
			AwaitingStep: StepAwaitingName,
			ResumeNode:   nodeCollectName,
			FreshNode:    nodeGreet,
		})).
		On(StepAwaitingPhone, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "phone_entry",
			AwaitingStep: StepAwaitingPhone,
			ResumeNode:   nodeCollectPhone,
			FreshNode:    nodeGreet,
		})).
		On(StepAwaitingVehicle, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "vehicle_entry",
			AwaitingStep: StepAwaitingVehicle,
			ResumeNode:   nodeCollectVehicle,
			FreshNode:    nodeGreet,
		})).
		On(StepAwaitingService, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "service_entry",
			AwaitingStep: StepAwaitingService,
			Readiness:    hasPendingOptions,
			ResumeNode:   nodeResolveService,
			FreshNode:    nodeFetchServices,
		})).
		On(StepAwaitingSlot, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "slot_entry",
			AwaitingStep: StepAwaitingSlot,
			Readiness:    hasPendingOptions,
			ResumeNode:   nodeResolveSlot,
			FreshNode:    nodeFetchSlots,
		})).
		On(StepAwaitingConfirmation, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "confirmation_entry",
			AwaitingStep: StepAwaitingConfirmation,
			ResumeNode:   nodeResolveConfirm,
			FreshNode:    nodeSummarize,
		})).
		On(StepAwaitingPayment, flow.ResumeRouter(flow.ResumeRouteConfig{
			Name:         "payment_entry",
			AwaitingStep: StepAwaitingPayment,
			ResumeNode:   nodeResolvePayment,
			FreshNode:    nodeCreateBooking,
		}))

	g := flow.New(entry.Resolver()).
		AddNode(nodeGreet, d.NewGreetNode()).
		AddRouter(nodeGreet, identity).
		AddNode(nodeAskName, d.NewAskNameNode()).
		AddNode(nodeCollectName, d.NewCollectNameNode()).
		AddRouter(nodeCollectName, d.escalating(StepAwaitingName, identity)).
		AddNode(nodeAskPhone, d.NewAskPhoneNode()).
		AddNode(nodeCollectPhone, d.NewCollectPhoneNode()).
		AddRouter(nodeCollectPhone, d.escalating(StepAwaitingPhone, identity)).
		AddNode(nodeAskVehicle, d.NewAskVehicleNode()).
		AddNode(nodeCollectVehicle, d.NewCollectVehicleNode()).
		AddRouter(nodeCollectVehicle, d.escalating(StepAwaitingVehicle, identity)).
		AddNode(nodeFetchServices, d.NewFetchServicesNode()).
		AddEdge(nodeFetchServices, nodeHandoff). // only when the catalog is empty
		AddNode(nodeResolveService, d.NewResolveServiceNode()).
		AddRouter(nodeResolveService, d.escalating(StepAwaitingService, fixed(nodeFetchSlots))).
		AddNode(nodeFetchSlots, d.NewFetchSlotsNode()).
		AddEdge(nodeFetchSlots, nodeHandoff). // only when no slots are open
		AddNode(nodeResolveSlot, d.NewResolveSlotNode()).
		AddRouter(nodeResolveSlot, d.escalating(StepAwaitingSlot, fixed(nodeSummarize))).
		AddNode(nodeSummarize, d.NewSummarizeNode()).
		AddNode(nodeResolveConfirm, d.NewResolveConfirmationNode()).
		AddRouter(nodeResolveConfirm, d.escalating(StepAwaitingConfirmation, d.confirmationRouter())).
		AddNode(nodeCreateBooking, d.NewCreateBookingNode()).
		AddNode(nodeResolvePayment, d.NewResolvePaymentNode()).
		AddRouter(nodeResolvePayment, d.escalating(StepAwaitingPayment, fixed(nodeComplete))).
		AddNode(nodeComplete, d.NewCompleteNode()).
		AddNode(nodeCancel, d.NewCancelNode()).
		AddNode(nodeHandoff, d.NewHandoffNode())

	runner, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile booking graph: %w", err)
	}
	return runner, nil
}

func hasPendingOptions(c *state.Conversation) bool {
	return len(c.PendingOptions) > 0
}

func fixed(node string) flow.RouterFunc {
	return func(*state.Conversation) string { return node }
}
