// Package assignment binds admin workflow instances to review teams and
// users, and drives the review pipeline that follows.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

var (
	// ErrNoEligibleTeam is returned when no active team passes the rule's
	// filters.
	ErrNoEligibleTeam = errors.New("no eligible team for assignment")

	// ErrNoEligibleUser is returned when individual assignment is
	// requested but every candidate is at capacity.
	ErrNoEligibleUser = errors.New("no eligible user for assignment")

	// ErrInvalidReviewTransition is returned for illegal review steps.
	ErrInvalidReviewTransition = errors.New("invalid review transition")
)

// TeamDirectory lists the teams eligible for review work.
type TeamDirectory interface {
	ListTeams(ctx context.Context) ([]*models.Team, error)
}

// StaticTeams is a fixed in-memory team directory.
type StaticTeams struct {
	teams []*models.Team
}

// NewStaticTeams builds a directory over a fixed team list.
func NewStaticTeams(teams ...*models.Team) *StaticTeams {
	return &StaticTeams{teams: teams}
}

func (s *StaticTeams) ListTeams(context.Context) ([]*models.Team, error) {
	return s.teams, nil
}

// Admitter re-admits an instance that a successful bind made runnable.
// The executor implements it.
type Admitter interface {
	Wake(instanceID string)
}

// Service selects assignees for admin instances and applies review
// transitions.
type Service struct {
	teams     TeamDirectory
	instances storage.InstanceStore
	review    *ReviewMachine
	rotation  *rotation
	admitter  Admitter
	rand      *rand.Rand
	randMu    sync.Mutex

	mu    sync.RWMutex
	rules map[string]models.AssignmentRule
}

// NewService wires an assignment service.
func NewService(teams TeamDirectory, instances storage.InstanceStore) *Service {
	return &Service{
		teams:     teams,
		instances: instances,
		review:    NewReviewMachine(),
		rotation:  newRotation(),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		rules:     make(map[string]models.AssignmentRule),
	}
}

// SetAdmitter installs the executor used to wake instances that were
// parked waiting for assignment. Call before serving requests.
func (s *Service) SetAdmitter(a Admitter) {
	s.admitter = a
}

// SetRule installs a workflow-specific assignment rule.
func (s *Service) SetRule(workflowID string, rule models.AssignmentRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[workflowID] = rule
}

// ruleFor returns the workflow's rule or the default.
func (s *Service) ruleFor(workflowID string) models.AssignmentRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rule, ok := s.rules[workflowID]; ok {
		return rule
	}
	return models.DefaultAssignmentRule()
}

// Assign binds the instance to a team or user per the workflow's rule.
// The instance is mutated in place; persisting it is the caller's
// responsibility. Implements engine.Assigner.
func (s *Service) Assign(ctx context.Context, inst *models.Instance) error {
	rule := s.ruleFor(inst.TemplateID)

	team, err := s.selectTeam(ctx, rule, inst.TemplateID)
	if err != nil {
		return err
	}

	assignment := &models.Assignment{
		TeamID:     team.ID,
		AssignedBy: "system",
		AssignedAt: time.Now().UTC(),
		Status:     models.AssignmentPendingReview,
		Type:       models.AssignmentToTeam,
	}

	if !rule.PreferTeamAssignment {
		user, err := s.selectUser(ctx, rule, team, inst.TemplateID)
		if err != nil {
			// Fall back to the team when everyone is at capacity.
			log.Printf("Falling back to team assignment for instance %s: %v", inst.ID, err)
		} else {
			assignment.UserID = user.UserID
			assignment.Type = models.AssignmentToUser
		}
	}

	assignment.History = append(assignment.History, models.AssignmentTransition{
		From:      "",
		To:        models.AssignmentPendingReview,
		Actor:     "system",
		Timestamp: assignment.AssignedAt,
		Details: map[string]interface{}{
			"strategy": string(rule.Strategy),
			"team_id":  team.ID,
		},
	})

	inst.Assignment = assignment
	return nil
}

// selectTeam applies eligibility filters and the rule's strategy.
func (s *Service) selectTeam(ctx context.Context, rule models.AssignmentRule, workflowID string) (*models.Team, error) {
	teams, err := s.teams.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	var eligible []*models.Team
	for _, t := range teams {
		if !t.IsActive {
			continue
		}
		if len(rule.PreferredTeams) > 0 && !contains(rule.PreferredTeams, t.ID) {
			continue
		}
		if len(rule.RequiredSpecializations) > 0 && !sharesAny(t.Specializations, rule.RequiredSpecializations) {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleTeam
	}

	// Deterministic candidate order before strategy selection.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	switch rule.Strategy {
	case models.StrategyRoundRobin:
		idx := s.rotation.pick(rotationKey("", rule.AssigneeRole, workflowID), len(eligible))
		return eligible[idx], nil

	case models.StrategyRandom:
		s.randMu.Lock()
		idx := s.rand.Intn(len(eligible))
		s.randMu.Unlock()
		return eligible[idx], nil

	case models.StrategyExpertise:
		return s.bestByExpertise(ctx, eligible, rule)

	case models.StrategyWorkloadBased, models.StrategyPriority, "":
		// PRIORITY_BASED is reserved and falls back to workload.
		return s.leastLoadedTeam(ctx, eligible)

	default:
		return nil, fmt.Errorf("unknown assignment strategy %q", rule.Strategy)
	}
}

// leastLoadedTeam scores teams by active instances normalized by size.
func (s *Service) leastLoadedTeam(ctx context.Context, teams []*models.Team) (*models.Team, error) {
	best := teams[0]
	bestScore := float64(-1)
	for _, t := range teams {
		active, err := s.activeCount(ctx, t.ID, "")
		if err != nil {
			return nil, err
		}
		size := len(t.Members)
		if size == 0 {
			size = 1
		}
		score := float64(active) / float64(size)
		if bestScore < 0 || score < bestScore {
			best, bestScore = t, score
		}
	}
	return best, nil
}

// bestByExpertise scores specialization overlap, workload as tiebreaker.
func (s *Service) bestByExpertise(ctx context.Context, teams []*models.Team, rule models.AssignmentRule) (*models.Team, error) {
	best := teams[0]
	bestScore := -1.0
	bestLoad := 0
	for _, t := range teams {
		overlap := 0
		for _, spec := range rule.RequiredSpecializations {
			if contains(t.Specializations, spec) {
				overlap++
			}
		}
		score := float64(overlap) / float64(len(rule.RequiredSpecializations))

		load, err := s.activeCount(ctx, t.ID, "")
		if err != nil {
			return nil, err
		}
		if score > bestScore || (score == bestScore && load < bestLoad) {
			best, bestScore, bestLoad = t, score, load
		}
	}
	return best, nil
}

// selectUser picks a member of the team, respecting the role filter and
// the per-user active-instance cap.
func (s *Service) selectUser(ctx context.Context, rule models.AssignmentRule, team *models.Team, workflowID string) (*models.TeamMember, error) {
	var candidates []models.TeamMember
	for _, m := range team.Members {
		if rule.AssigneeRole != "" && m.Role != rule.AssigneeRole {
			continue
		}
		if rule.MaxInstancesPerUser > 0 {
			active, err := s.activeCount(ctx, "", m.UserID)
			if err != nil {
				return nil, err
			}
			if active >= rule.MaxInstancesPerUser {
				continue
			}
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleUser
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].UserID < candidates[j].UserID })

	switch rule.Strategy {
	case models.StrategyRoundRobin:
		idx := s.rotation.pick(rotationKey(team.ID, rule.AssigneeRole, workflowID), len(candidates))
		return &candidates[idx], nil

	case models.StrategyRandom:
		s.randMu.Lock()
		idx := s.rand.Intn(len(candidates))
		s.randMu.Unlock()
		return &candidates[idx], nil

	default:
		// Workload-based: fewest active instances wins.
		best := &candidates[0]
		bestLoad := -1
		for i := range candidates {
			load, err := s.activeCount(ctx, "", candidates[i].UserID)
			if err != nil {
				return nil, err
			}
			if bestLoad < 0 || load < bestLoad {
				best, bestLoad = &candidates[i], load
			}
		}
		return best, nil
	}
}

// activeCount counts non-terminal instances bound to a team or user.
func (s *Service) activeCount(ctx context.Context, teamID, userID string) (int, error) {
	instances, err := s.instances.ListInstances(ctx, storage.InstanceFilters{
		AssignedTeamID: teamID,
		AssignedUserID: userID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count active instances: %w", err)
	}
	count := 0
	for _, inst := range instances {
		if !inst.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// Transition applies a review step to a persisted instance. It returns
// ErrInvalidReviewTransition for illegal steps, leaving state untouched.
func (s *Service) Transition(ctx context.Context, instanceID string, to models.AssignmentStatus, actor, comment string, details map[string]interface{}) error {
	inst, err := s.instances.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Assignment == nil {
		return fmt.Errorf("instance %s has no assignment", instanceID)
	}

	if !s.review.Transition(inst.Assignment, to, actor, comment, details) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidReviewTransition, inst.Assignment.Status, to)
	}

	inst.UpdatedAt = time.Now().UTC()
	return s.instances.SaveInstance(ctx, inst)
}

// StartReview moves a pending assignment under review.
func (s *Service) StartReview(ctx context.Context, instanceID, reviewer string) error {
	return s.Transition(ctx, instanceID, models.AssignmentUnderReview, reviewer, "", nil)
}

// Approve records reviewer approval.
func (s *Service) Approve(ctx context.Context, instanceID, reviewer, comments string) error {
	return s.Transition(ctx, instanceID, models.AssignmentApprovedByReviewer, reviewer, comments, nil)
}

// Reject records a rejection with its reason.
func (s *Service) Reject(ctx context.Context, instanceID, reviewer, reason, comments string) error {
	return s.Transition(ctx, instanceID, models.AssignmentRejected, reviewer, comments, map[string]interface{}{"reason": reason})
}

// RequestModifications sends the instance back with a list of asks.
func (s *Service) RequestModifications(ctx context.Context, instanceID, reviewer string, modifications []string) error {
	return s.Transition(ctx, instanceID, models.AssignmentModificationRequested, reviewer, "", map[string]interface{}{"modifications": modifications})
}

// Escalate pulls the instance out of the normal pipeline.
func (s *Service) Escalate(ctx context.Context, instanceID, actor, reason string) error {
	return s.Transition(ctx, instanceID, models.AssignmentEscalated, actor, reason, nil)
}

// Complete records the final sign-off.
func (s *Service) Complete(ctx context.Context, instanceID, approver string) error {
	return s.Transition(ctx, instanceID, models.AssignmentCompleted, approver, "", nil)
}

// Reassign re-runs selection for an instance whose assignment returned to
// the pool (pending or escalated), or binds an instance whose initial
// assignment failed and that is parked WAITING_FOR_ASSIGNMENT with no
// assignment at all. A successful bind of a parked instance moves it to
// PENDING and wakes the executor.
func (s *Service) Reassign(ctx context.Context, instanceID, actor string) error {
	inst, err := s.instances.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	var (
		hadAssignment bool
		prevHistory   []models.AssignmentTransition
		prevStatus    models.AssignmentStatus
	)
	if inst.Assignment != nil {
		hadAssignment = true
		if !s.review.CanTransition(inst.Assignment.Status, models.AssignmentPendingReview) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidReviewTransition, inst.Assignment.Status, models.AssignmentPendingReview)
		}
		prevHistory = inst.Assignment.History
		prevStatus = inst.Assignment.Status
	} else if inst.Status != models.InstanceWaitingForAssignment {
		return fmt.Errorf("instance %s has no assignment", instanceID)
	}

	if err := s.Assign(ctx, inst); err != nil {
		return err
	}
	inst.Assignment.AssignedBy = actor

	// Assign recorded a fresh PENDING_REVIEW entry with the selection
	// details. Re-point it at the prior state and restore the earlier
	// history ahead of it.
	if hadAssignment {
		entry := &inst.Assignment.History[len(inst.Assignment.History)-1]
		entry.From = prevStatus
		entry.Actor = actor
		entry.Comment = "re-assigned"
		inst.Assignment.History = append(prevHistory, inst.Assignment.History...)
	}

	woken := false
	if inst.Status == models.InstanceWaitingForAssignment {
		inst.Status = models.InstancePending
		woken = true
	}

	inst.UpdatedAt = time.Now().UTC()
	if err := s.instances.SaveInstance(ctx, inst); err != nil {
		return err
	}
	if woken && s.admitter != nil {
		s.admitter.Wake(instanceID)
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
