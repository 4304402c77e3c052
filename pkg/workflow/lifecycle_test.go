package workflow

import (
	"errors"
	"testing"

	"momflow/pkg/domain"
)

type tableEntry struct {
	from domain.MomStatus
	to   domain.MomStatus
}

var transitionTable = map[Action][]tableEntry{
	ActionSendReview: {
		{domain.MomCreated, domain.MomInReview},
		{domain.MomNeedsRevision, domain.MomInReview},
	},
	ActionSendApproval:   {{domain.MomInReview, domain.MomAwaitingApproval}},
	ActionRejectReview:   {{domain.MomInReview, domain.MomNeedsRevision}},
	ActionApprove:        {{domain.MomAwaitingApproval, domain.MomApproved}},
	ActionRejectApproval: {{domain.MomAwaitingApproval, domain.MomNeedsRevision}},
	ActionClose: {
		{domain.MomCreated, domain.MomClosed},
		{domain.MomInReview, domain.MomClosed},
		{domain.MomAwaitingApproval, domain.MomClosed},
		{domain.MomApproved, domain.MomClosed},
		{domain.MomNeedsRevision, domain.MomClosed},
	},
}

func lookup(status domain.MomStatus, action Action) (domain.MomStatus, bool) {
	for _, e := range transitionTable[action] {
		if e.from == status {
			return e.to, true
		}
	}
	return "", false
}

func TestNextCoversWholeGrid(t *testing.T) {
	for _, status := range domain.MomStatuses {
		for _, action := range Actions {
			want, inTable := lookup(status, action)
			got, err := Next(status, action)
			if !inTable {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("Next(%s, %s) err = %v, want ErrInvalidTransition", status, action, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("Next(%s, %s): %v", status, action, err)
			}
			if got.To != want || got.From != status || got.Action != action {
				t.Fatalf("Next(%s, %s) = %+v, want to=%s", status, action, got, want)
			}
		}
	}
}

func TestNextClosedIsTerminal(t *testing.T) {
	for _, action := range Actions {
		if _, err := Next(domain.MomClosed, action); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("action %s from CLOSED: err = %v", action, err)
		}
	}
}

func TestNextUnknownAction(t *testing.T) {
	if _, err := Next(domain.MomCreated, Action("publish")); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestTransitionEffects(t *testing.T) {
	cases := []struct {
		status    domain.MomStatus
		action    Action
		audience  Audience
		mail      bool
		attachPDF bool
	}{
		{domain.MomCreated, ActionSendReview, AudienceReviewers, false, false},
		{domain.MomInReview, ActionSendApproval, AudienceApprovers, false, false},
		{domain.MomInReview, ActionRejectReview, AudienceCreator, true, false},
		{domain.MomAwaitingApproval, ActionApprove, AudienceMembers, true, true},
		{domain.MomAwaitingApproval, ActionRejectApproval, AudienceCreator, true, false},
		{domain.MomApproved, ActionClose, AudienceMembers, false, false},
	}
	for _, tc := range cases {
		tr, err := Next(tc.status, tc.action)
		if err != nil {
			t.Fatalf("Next(%s, %s): %v", tc.status, tc.action, err)
		}
		if tr.Effects.Notify != tc.audience {
			t.Fatalf("%s: notify = %q, want %q", tc.action, tr.Effects.Notify, tc.audience)
		}
		if tr.Effects.Mail != tc.mail || tr.Effects.AttachPDF != tc.attachPDF {
			t.Fatalf("%s: effects = %+v", tc.action, tr.Effects)
		}
		if tr.Effects.NotificationType == "" {
			t.Fatalf("%s: missing notification type", tc.action)
		}
	}
}

func TestValidateComment(t *testing.T) {
	for _, action := range []Action{ActionRejectReview, ActionRejectApproval} {
		if err := ValidateComment(action, ""); !errors.Is(err, ErrCommentRequired) {
			t.Fatalf("%s with empty comment: err = %v", action, err)
		}
		if err := ValidateComment(action, "   "); !errors.Is(err, ErrCommentRequired) {
			t.Fatalf("%s with blank comment: err = %v", action, err)
		}
		if err := ValidateComment(action, "needs detail"); err != nil {
			t.Fatalf("%s with comment: %v", action, err)
		}
	}
	if err := ValidateComment(ActionApprove, ""); err != nil {
		t.Fatalf("approve should not require comments: %v", err)
	}
}

func TestInitialStatus(t *testing.T) {
	if got := InitialStatus(Actor{ID: 1, Role: domain.RoleUser}); got != domain.MomCreated {
		t.Fatalf("creator initial status = %s", got)
	}
	if got := InitialStatus(Actor{ID: 1, Role: domain.RoleSuperAdmin}); got != domain.MomApproved {
		t.Fatalf("super admin initial status = %s", got)
	}
}

func TestParseAction(t *testing.T) {
	if a, ok := ParseAction(" Send-Review "); !ok || a != ActionSendReview {
		t.Fatalf("ParseAction = %q, %v", a, ok)
	}
	if _, ok := ParseAction("publish"); ok {
		t.Fatalf("expected unknown action to fail")
	}
}
