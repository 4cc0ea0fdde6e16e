package assignment

import (
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// ReviewMachine guards the review pipeline of an assigned instance.
// Illegal transitions return false without mutating state.
type ReviewMachine struct {
	valid map[models.AssignmentStatus][]models.AssignmentStatus
}

// NewReviewMachine builds the review state machine.
func NewReviewMachine() *ReviewMachine {
	return &ReviewMachine{
		valid: map[models.AssignmentStatus][]models.AssignmentStatus{
			models.AssignmentPendingReview: {
				models.AssignmentUnderReview,
				models.AssignmentPendingReview, // re-assignment
			},
			models.AssignmentUnderReview: {
				models.AssignmentApprovedByReviewer,
				models.AssignmentRejected,
				models.AssignmentModificationRequested,
			},
			models.AssignmentApprovedByReviewer: {
				models.AssignmentPendingSignature,
				models.AssignmentCompleted,
			},
			models.AssignmentPendingSignature: {
				models.AssignmentCompleted,
			},
			models.AssignmentModificationRequested: {
				models.AssignmentUnderReview,
			},
			models.AssignmentEscalated: {
				models.AssignmentPendingReview, // re-assignment
			},
			models.AssignmentOnHold: {
				models.AssignmentUnderReview,
			},
		},
	}
}

// CanTransition reports whether from → to is allowed. Escalation is
// reachable from every non-terminal state.
func (m *ReviewMachine) CanTransition(from, to models.AssignmentStatus) bool {
	if to == models.AssignmentEscalated {
		return from != models.AssignmentCompleted
	}
	for _, next := range m.valid[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies from → to on the assignment, recording the step in
// its history. It returns false, untouched, for illegal transitions.
func (m *ReviewMachine) Transition(a *models.Assignment, to models.AssignmentStatus, actor, comment string, details map[string]interface{}) bool {
	if a == nil || !m.CanTransition(a.Status, to) {
		return false
	}

	a.History = append(a.History, models.AssignmentTransition{
		From:      a.Status,
		To:        to,
		Actor:     actor,
		Comment:   comment,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	a.Status = to
	return true
}
