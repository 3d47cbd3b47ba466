package purchasing

import (
	"fmt"
	"time"

	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// STATUS MACHINE
// =============================================================================
//
//   draft ──submit──▶ submitted ──approve──▶ approved ──order──▶ ordered
//     │                  │  └─────reject───▶ rejected
//     └──cancel──▶ cancelled ◀──cancel──┘

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusOrdered},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: purchase request cannot go from %s to %s", reconcile.ErrInvalidTransition, from, to)
}

// Editable reports whether the request content may still change.
func (r PurchaseRequest) Editable() bool {
	return r.Status == StatusDraft || r.Status == StatusSubmitted
}

// ApplyUpdate returns r with the update applied.
func (r PurchaseRequest) ApplyUpdate(in UpdateInput, now time.Time) (PurchaseRequest, error) {
	if !r.Editable() {
		return r, fmt.Errorf("%w: purchase request %d is %s", reconcile.ErrInvalidTransition, r.ID, r.Status)
	}
	if in.Status != nil && !CanTransition(r.Status, *in.Status) {
		return r, transitionError(r.Status, *in.Status)
	}

	if in.Agency != nil {
		r.Agency = *in.Agency
	}
	if in.Type != nil {
		r.Type = *in.Type
	}
	if in.Title != nil {
		r.Title = *in.Title
	}
	if in.Description != nil {
		r.Description = *in.Description
	}
	if in.Priority != nil {
		r.Priority = *in.Priority
	}
	if in.EstimatedAmount != nil {
		r.EstimatedAmount = *in.EstimatedAmount
	}
	if in.Currency != nil {
		r.Currency = *in.Currency
	}
	if in.NeededBy != nil {
		r.NeededBy = *in.NeededBy
	}
	if in.Status != nil {
		r.Status = *in.Status
	}
	r.UpdatedAt = now
	return r, nil
}

// ApplyValidation approves or rejects a submitted request.
func (r PurchaseRequest) ApplyValidation(in ValidateInput, now time.Time) (PurchaseRequest, error) {
	if r.Status != StatusSubmitted {
		return r, transitionError(r.Status, in.Decision)
	}
	if in.Decision == StatusRejected && in.Comment == "" {
		return r, fieldError("comment", "a rejection needs a comment")
	}
	r.Status = in.Decision
	r.Comment = in.Comment
	r.UpdatedAt = now
	return r, nil
}

// MarkOrdered moves an approved request to ordered once a purchase order
// references it.
func (r PurchaseRequest) MarkOrdered(now time.Time) (PurchaseRequest, error) {
	if !CanTransition(r.Status, StatusOrdered) {
		return r, transitionError(r.Status, StatusOrdered)
	}
	r.Status = StatusOrdered
	r.UpdatedAt = now
	return r, nil
}
