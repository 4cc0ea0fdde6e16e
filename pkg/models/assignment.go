package models

import "time"

// AssignmentStatus is the review sub-state of an assigned admin instance.
type AssignmentStatus string

const (
	AssignmentPendingReview        AssignmentStatus = "PENDING_REVIEW"
	AssignmentUnderReview          AssignmentStatus = "UNDER_REVIEW"
	AssignmentApprovedByReviewer   AssignmentStatus = "APPROVED_BY_REVIEWER"
	AssignmentRejected             AssignmentStatus = "REJECTED"
	AssignmentModificationRequested AssignmentStatus = "MODIFICATION_REQUESTED"
	AssignmentPendingSignature     AssignmentStatus = "PENDING_SIGNATURE"
	AssignmentCompleted            AssignmentStatus = "COMPLETED"
	AssignmentEscalated            AssignmentStatus = "ESCALATED"
	AssignmentOnHold               AssignmentStatus = "ON_HOLD"
)

// AssignmentType says whether the instance is bound to a whole team or a
// specific user.
type AssignmentType string

const (
	AssignmentToTeam AssignmentType = "team"
	AssignmentToUser AssignmentType = "user"
)

// AssignmentTransition is one recorded step of the review pipeline.
type AssignmentTransition struct {
	From      AssignmentStatus       `json:"from"`
	To        AssignmentStatus       `json:"to"`
	Actor     string                 `json:"actor,omitempty"`
	Comment   string                 `json:"comment,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Assignment binds a suspended admin instance to a team or user for review.
type Assignment struct {
	TeamID     string                 `json:"team_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	AssignedBy string                 `json:"assigned_by"`
	AssignedAt time.Time              `json:"assigned_at"`
	Status     AssignmentStatus       `json:"assignment_status"`
	Type       AssignmentType         `json:"assignment_type"`
	History    []AssignmentTransition `json:"history,omitempty"`
}

// AssignmentStrategy selects how a candidate team or user is chosen.
type AssignmentStrategy string

const (
	StrategyRoundRobin    AssignmentStrategy = "ROUND_ROBIN"
	StrategyWorkloadBased AssignmentStrategy = "WORKLOAD_BASED"
	StrategyExpertise     AssignmentStrategy = "EXPERTISE_BASED"
	StrategyRandom        AssignmentStrategy = "RANDOM"
	// StrategyPriority is reserved and currently falls back to
	// workload-based selection.
	StrategyPriority AssignmentStrategy = "PRIORITY_BASED"
)

// AssignmentRule carries the workflow-specific assignment policy.
type AssignmentRule struct {
	Strategy                AssignmentStrategy `json:"strategy"`
	PreferredTeams          []string           `json:"preferred_teams,omitempty"`
	RequiredSpecializations []string           `json:"required_specializations,omitempty"`
	MaxInstancesPerUser     int                `json:"max_instances_per_user"`
	PreferTeamAssignment    bool               `json:"prefer_team_assignment"`
	AssigneeRole            string             `json:"assignee_role,omitempty"`
	AutoStart               bool               `json:"auto_start"`
}

// DefaultAssignmentRule is applied when a workflow declares no rule.
func DefaultAssignmentRule() AssignmentRule {
	return AssignmentRule{
		Strategy:             StrategyWorkloadBased,
		MaxInstancesPerUser:  5,
		PreferTeamAssignment: true,
	}
}

// TeamMember is one user within a team.
type TeamMember struct {
	UserID          string   `json:"user_id"`
	Role            string   `json:"role,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
}

// Team is a group of reviewers eligible for assignment.
type Team struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	IsActive        bool         `json:"is_active"`
	Specializations []string     `json:"specializations,omitempty"`
	Members         []TeamMember `json:"members"`
}
