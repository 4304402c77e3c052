// Package workflow holds the MoM status lifecycle: the transition table, the
// authorization policy consulted for each action, and MoM numbering. Nothing in
// this package performs I/O.
package workflow

import (
	"fmt"
	"strings"

	"momflow/pkg/domain"
)

// Action is a requested workflow step on a MoM.
type Action string

const (
	ActionSendReview     Action = "send-review"
	ActionSendApproval   Action = "send-approval"
	ActionRejectReview   Action = "reject-review"
	ActionApprove        Action = "approve"
	ActionRejectApproval Action = "reject-approval"
	ActionClose          Action = "close"
)

// Actions lists every workflow action.
var Actions = []Action{
	ActionSendReview,
	ActionSendApproval,
	ActionRejectReview,
	ActionApprove,
	ActionRejectApproval,
	ActionClose,
}

// ParseAction maps a route segment such as "send-review" to an Action.
func ParseAction(raw string) (Action, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, action := range Actions {
		if string(action) == raw {
			return action, true
		}
	}
	return "", false
}

// Audience names the project members told about a transition.
type Audience string

const (
	AudienceNone      Audience = ""
	AudienceReviewers Audience = "reviewers"
	AudienceApprovers Audience = "approvers"
	AudienceMembers   Audience = "members"
	AudienceCreator   Audience = "creator"
)

// Effects are the side effects owed once a MoM enters a status.
type Effects struct {
	Notify           Audience
	NotificationType string
	Mail             bool
	AttachPDF        bool
}

// Transition is an accepted move between two statuses.
type Transition struct {
	Action  Action
	From    domain.MomStatus
	To      domain.MomStatus
	Effects Effects
}

type rule struct {
	from           []domain.MomStatus
	to             domain.MomStatus
	roles          []domain.ProjectRole
	requireOwner   bool
	ownerForAdmin  bool
	requireComment bool
}

var nonClosed = []domain.MomStatus{
	domain.MomCreated,
	domain.MomInReview,
	domain.MomAwaitingApproval,
	domain.MomApproved,
	domain.MomNeedsRevision,
}

var rules = map[Action]rule{
	ActionSendReview: {
		from:         []domain.MomStatus{domain.MomCreated, domain.MomNeedsRevision},
		to:           domain.MomInReview,
		roles:        []domain.ProjectRole{domain.ProjectCreator},
		requireOwner: true,
	},
	ActionSendApproval: {
		from:  []domain.MomStatus{domain.MomInReview},
		to:    domain.MomAwaitingApproval,
		roles: []domain.ProjectRole{domain.ProjectReviewer},
	},
	ActionRejectReview: {
		from:           []domain.MomStatus{domain.MomInReview},
		to:             domain.MomNeedsRevision,
		roles:          []domain.ProjectRole{domain.ProjectReviewer},
		requireComment: true,
	},
	ActionApprove: {
		from:  []domain.MomStatus{domain.MomAwaitingApproval},
		to:    domain.MomApproved,
		roles: []domain.ProjectRole{domain.ProjectApprover},
	},
	ActionRejectApproval: {
		from:           []domain.MomStatus{domain.MomAwaitingApproval},
		to:             domain.MomNeedsRevision,
		roles:          []domain.ProjectRole{domain.ProjectApprover},
		requireComment: true,
	},
	// close has no project role: only a SUPER_ADMIN who created the MoM.
	ActionClose: {
		from:          nonClosed,
		to:            domain.MomClosed,
		requireOwner:  true,
		ownerForAdmin: true,
	},
}

var effects = map[domain.MomStatus]Effects{
	domain.MomInReview: {
		Notify:           AudienceReviewers,
		NotificationType: "MOM_IN_REVIEW",
	},
	domain.MomAwaitingApproval: {
		Notify:           AudienceApprovers,
		NotificationType: "MOM_AWAITING_APPROVAL",
	},
	domain.MomApproved: {
		Notify:           AudienceMembers,
		NotificationType: "MOM_APPROVED",
		Mail:             true,
		AttachPDF:        true,
	},
	domain.MomNeedsRevision: {
		Notify:           AudienceCreator,
		NotificationType: "MOM_NEEDS_REVISION",
		Mail:             true,
	},
	domain.MomClosed: {
		Notify:           AudienceMembers,
		NotificationType: "MOM_CLOSED",
	},
}

// EffectsFor returns the side effects owed when a MoM enters status.
func EffectsFor(status domain.MomStatus) Effects {
	return effects[status]
}

// Next resolves the transition reached by applying action in status.
// Pairs outside the transition table fail with ErrInvalidTransition.
func Next(status domain.MomStatus, action Action) (Transition, error) {
	r, ok := rules[action]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !containsStatus(r.from, status) {
		return Transition{}, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, status)
	}
	return Transition{
		Action:  action,
		From:    status,
		To:      r.to,
		Effects: EffectsFor(r.to),
	}, nil
}

// RequiresComment reports whether action must carry non-empty comments.
func RequiresComment(action Action) bool {
	return rules[action].requireComment
}

// ValidateComment rejects rejection actions sent without comments.
func ValidateComment(action Action, comment string) error {
	if RequiresComment(action) && strings.TrimSpace(comment) == "" {
		return fmt.Errorf("%w for %s", ErrCommentRequired, action)
	}
	return nil
}

// InitialStatus is the status of a freshly created MoM. A SUPER_ADMIN
// publishes directly.
func InitialStatus(actor Actor) domain.MomStatus {
	if actor.SuperAdmin() {
		return domain.MomApproved
	}
	return domain.MomCreated
}

func containsStatus(list []domain.MomStatus, status domain.MomStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
