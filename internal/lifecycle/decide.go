package lifecycle

import "supportdesk.app/relay/internal/model"

type TriggerKind string

const (
	TriggerStaffReply       TriggerKind = "STAFF_REPLY"
	TriggerCustomerReply    TriggerKind = "CUSTOMER_REPLY"
	TriggerCustomerResolved TriggerKind = "CUSTOMER_RESOLVED"
	TriggerAutoClose        TriggerKind = "AUTO_CLOSE"
	TriggerCustomerReopen   TriggerKind = "CUSTOMER_REOPEN"
	TriggerManual           TriggerKind = "MANUAL"
)

// Trigger is an input to the state machine. Target is only read for
// TriggerManual.
type Trigger struct {
	Kind   TriggerKind
	Target model.TicketStatus
	Actor  model.Actor
	// Question is stored on the resulting event, e.g. feedback left on close.
	Question *string
}

func StaffReply() Trigger {
	return Trigger{Kind: TriggerStaffReply, Actor: model.ActorStaff}
}

func CustomerReply() Trigger {
	return Trigger{Kind: TriggerCustomerReply, Actor: model.ActorCustomer}
}

func CustomerResolved(feedback *string) Trigger {
	return Trigger{Kind: TriggerCustomerResolved, Actor: model.ActorCustomer, Question: feedback}
}

func AutoClose() Trigger {
	return Trigger{Kind: TriggerAutoClose, Actor: model.ActorSystem}
}

func CustomerReopen() Trigger {
	return Trigger{Kind: TriggerCustomerReopen, Actor: model.ActorCustomer}
}

func Manual(target model.TicketStatus) Trigger {
	return Trigger{Kind: TriggerManual, Target: target, Actor: model.ActorStaff}
}

// Decision is the outcome of a transition: the next status and the audit
// event recorded for it.
type Decision struct {
	Next  model.TicketStatus
	Event model.TicketEventType
}

// Decide returns the transition for trigger from current. The second result
// is false when the pair leaves the status unchanged.
func Decide(current model.TicketStatus, trigger Trigger) (Decision, bool) {
	if !current.Valid() {
		return Decision{}, false
	}

	switch trigger.Kind {
	case TriggerStaffReply:
		if current == model.TicketStatusNew {
			return Decision{Next: model.TicketStatusInProgress, Event: model.TicketEventStatusChanged}, true
		}
	case TriggerCustomerReply:
		if current == model.TicketStatusWaitingClient {
			return Decision{Next: model.TicketStatusInProgress, Event: model.TicketEventStatusChanged}, true
		}
	case TriggerCustomerResolved:
		if current != model.TicketStatusClosed {
			return Decision{Next: model.TicketStatusClosed, Event: model.TicketEventClosed}, true
		}
	case TriggerAutoClose:
		if current == model.TicketStatusWaitingClient {
			return Decision{Next: model.TicketStatusClosed, Event: model.TicketEventClosed}, true
		}
	case TriggerCustomerReopen:
		if current == model.TicketStatusClosed {
			return Decision{Next: model.TicketStatusNew, Event: model.TicketEventReopened}, true
		}
	case TriggerManual:
		if trigger.Target.Valid() && trigger.Target != current {
			return Decision{Next: trigger.Target, Event: model.TicketEventStatusChanged}, true
		}
	}
	return Decision{}, false
}
