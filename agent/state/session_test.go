package state

import (
	"errors"
	"testing"
	"time"
)

func newProposal(token string) *PendingIntent {
	return &PendingIntent{
		Token:  token,
		Kind:   IntentCreateContact,
		Fields: ContactFields{Name: "Ana", PhoneNumber: "5551234567", Email: "ana@example.com"},
	}
}

func TestConfirmationRequiresLaterAffirmativeTurn(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	st.BeginTurn(now)

	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	// Same turn: even an affirmative cannot confirm.
	if got := st.AdvancePending(true, now); got != IntentGathering {
		t.Fatalf("AdvancePending() same turn = %q, want %q", got, IntentGathering)
	}
	if _, err := st.BeginCommit("t1", now); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("BeginCommit() error = %v, want ErrNotConfirmed", err)
	}
}

func TestConfirmFlowCommitsOnce(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	st.BeginTurn(now)
	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	st.BeginTurn(now)
	if got := st.AdvancePending(true, now); got != IntentConfirmed {
		t.Fatalf("AdvancePending() = %q, want %q", got, IntentConfirmed)
	}

	p, err := st.BeginCommit("t1", now)
	if err != nil {
		t.Fatalf("BeginCommit() error = %v", err)
	}
	if p.Status != IntentExecuting {
		t.Fatalf("status = %q, want %q", p.Status, IntentExecuting)
	}

	done, err := st.FinishCommit("t1", "success", now)
	if err != nil {
		t.Fatalf("FinishCommit() error = %v", err)
	}
	if done.Status != IntentDone || done.Outcome != "success" {
		t.Fatalf("unexpected finished intent: %#v", done)
	}
	if st.Pending != nil {
		t.Fatal("expected pending intent to be cleared")
	}
	if _, err := st.BeginCommit("t1", now); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("second BeginCommit() error = %v, want ErrIntentNotFound", err)
	}
}

func TestNonAffirmativeReturnsToGathering(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	st.BeginTurn(now)
	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	st.BeginTurn(now)
	if got := st.AdvancePending(false, now); got != IntentGathering {
		t.Fatalf("AdvancePending() = %q, want %q", got, IntentGathering)
	}

	// A bare "yes" after falling back to gathering does not confirm; a new summary is needed.
	st.BeginTurn(now)
	if got := st.AdvancePending(true, now); got != IntentGathering {
		t.Fatalf("AdvancePending() = %q, want %q", got, IntentGathering)
	}
}

func TestProposeSupersedesOpenIntent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	st.BeginTurn(now)
	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	old, err := st.Propose(newProposal("t2"), now)
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if old == nil || old.Token != "t1" || old.Status != IntentAborted {
		t.Fatalf("unexpected superseded intent: %#v", old)
	}
	if st.Pending.Token != "t2" {
		t.Fatalf("pending token = %q, want t2", st.Pending.Token)
	}
}

func TestCancelClearsIntent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := st.Cancel("other", now); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("Cancel() wrong token error = %v", err)
	}
	p, err := st.Cancel("t1", now)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if p.Status != IntentAborted || st.Pending != nil {
		t.Fatalf("unexpected state after cancel: %#v pending=%#v", p, st.Pending)
	}
}

func TestBindChangingSellerAbortsPending(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "a@example.com", now)
	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	changed, err := st.Bind("a@example.com", now)
	if err != nil || changed {
		t.Fatalf("Bind() same seller = (%v, %v), want (false, nil)", changed, err)
	}
	if st.Pending == nil {
		t.Fatal("pending intent should survive an idempotent bind")
	}

	changed, err = st.Bind("b@example.com", now)
	if err != nil || !changed {
		t.Fatalf("Bind() new seller = (%v, %v), want (true, nil)", changed, err)
	}
	if st.Pending != nil {
		t.Fatal("pending intent must be dropped when the seller changes")
	}
	if _, err := st.Bind("  ", now); !errors.Is(err, ErrEmptySeller) {
		t.Fatalf("Bind() empty error = %v, want ErrEmptySeller", err)
	}
}

func TestAppendHistoryKeepsLimit(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "a@example.com", now)
	for _, msg := range []string{"one", "two", "three", "  "} {
		st.AppendHistory(RoleUser, msg, 2, now)
	}
	if len(st.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(st.History))
	}
	if st.History[0].Content != "two" || st.History[1].Content != "three" {
		t.Fatalf("unexpected history: %#v", st.History)
	}
}

func TestDropUnpresentedOnlyAffectsCurrentTurn(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	st.BeginTurn(now)
	if _, err := st.Propose(newProposal("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	// Proposed in an earlier turn: its summary was already shown.
	st.BeginTurn(now)
	if dropped := st.DropUnpresented(now); dropped != nil {
		t.Fatalf("DropUnpresented() dropped %q from an earlier turn", dropped.Token)
	}
	if st.Pending == nil {
		t.Fatal("earlier intent must survive")
	}

	if _, err := st.Propose(newProposal("t2"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	dropped := st.DropUnpresented(now)
	if dropped == nil || dropped.Token != "t2" || dropped.Status != IntentAborted {
		t.Fatalf("DropUnpresented() = %#v", dropped)
	}
	if st.Pending != nil {
		t.Fatal("dropped intent must be cleared")
	}

	// A later yes has nothing to confirm.
	st.BeginTurn(now)
	if got := st.AdvancePending(true, now); got != "" {
		t.Fatalf("AdvancePending() = %q, want no intent", got)
	}
}

func TestValidateRejectsIntentWithoutFields(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := NewSession("521555", "seller@example.com", now)
	if _, err := st.Propose(&PendingIntent{Token: "t1", Kind: IntentCreateContact}, now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if err := st.Validate(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Validate() error = %v, want ErrInvalidTransition", err)
	}
}
