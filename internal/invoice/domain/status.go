package domain

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "draft"
	InvoiceStatusIssued   InvoiceStatus = "issued"
	InvoiceStatusSent     InvoiceStatus = "sent"
	InvoiceStatusPartial  InvoiceStatus = "partial"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusOverdue  InvoiceStatus = "overdue"
	InvoiceStatusVoid     InvoiceStatus = "void"
	InvoiceStatusCredited InvoiceStatus = "credited"
)

var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusIssued, InvoiceStatusVoid},
	InvoiceStatusIssued:  {InvoiceStatusSent, InvoiceStatusOverdue, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusCredited},
	InvoiceStatusSent:    {InvoiceStatusOverdue, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusCredited},
	InvoiceStatusOverdue: {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusCredited},
	InvoiceStatusPartial: {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusIssued, InvoiceStatusSent, InvoiceStatusOverdue, InvoiceStatusVoid, InvoiceStatusCredited},
	InvoiceStatusPaid:    {InvoiceStatusPartial, InvoiceStatusIssued, InvoiceStatusSent, InvoiceStatusOverdue, InvoiceStatusCredited},
}

// CanTransition reports whether an invoice may move from one status to another.
// Moves out of paid and partial back to an unpaid status only happen when
// payments are reversed or fail.
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusVoid || s == InvoiceStatusCredited
}

// AcceptsPayments reports whether payments may be recorded against the status.
func (s InvoiceStatus) AcceptsPayments() bool {
	switch s {
	case InvoiceStatusIssued, InvoiceStatusSent, InvoiceStatusOverdue, InvoiceStatusPartial:
		return true
	default:
		return false
	}
}

func (s InvoiceStatus) Valid() bool {
	_, ok := transitions[s]
	return ok || s.IsTerminal()
}
