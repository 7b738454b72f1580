package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

func testSeller(t *testing.T) identityx.Seller {
	t.Helper()
	r, err := identityx.NewResolver(identityx.Config{FallbackEmail: "a@x.com", AllowFallback: true})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	s, _, err := r.Resolve(identityx.Event{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return s
}

func acquire(t *testing.T) *statex.Lease {
	t.Helper()
	sessions, err := statex.NewSessionStore(statex.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("NewSessionStore() error = %v", err)
	}
	lease, err := sessions.Acquire(context.Background(), "521555")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(lease.Release)
	return lease
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	now := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	lease := acquire(t)

	if _, err := ValidateRequest(GraphInput{Lease: lease, Text: "   ", Seller: testSeller(t)}, now); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("ValidateRequest() error = %v, want ErrInvalidMessage", err)
	}
	if _, err := ValidateRequest(GraphInput{Lease: lease, Text: "hola"}, now); !errors.Is(err, contractx.ErrIdentityMissing) {
		t.Fatalf("ValidateRequest() error = %v, want ErrIdentityMissing", err)
	}
	if _, err := ValidateRequest(GraphInput{Text: "hola", Seller: testSeller(t)}, now); !errors.Is(err, ErrNoLease) {
		t.Fatalf("ValidateRequest() error = %v, want ErrNoLease", err)
	}

	st, err := ValidateRequest(GraphInput{Lease: lease, Text: " hola ", Seller: testSeller(t)}, now)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.ConversationID != "521555" || st.Text != "hola" {
		t.Fatalf("unexpected state: %#v", st)
	}
}

func TestBindAdvanceRecordSave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lease := acquire(t)
	now := time.Now()

	in, err := ValidateRequest(GraphInput{Lease: lease, Text: "crea a Ana", Seller: testSeller(t)}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if in, err = BindSession(ctx, in); err != nil {
		t.Fatalf("BindSession() error = %v", err)
	}
	if in.Session.Turn != 1 || in.Session.SellerIdentity != "a@x.com" {
		t.Fatalf("unexpected session: %#v", in.Session)
	}

	if _, err := in.Session.Propose(newIntent("t1"), now); err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	in.Reply = "Crear a Ana, 5551234567. ¿Confirmas?"
	if in, err = RecordTurn(ctx, in, 10); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}
	if in.Session.Pending == nil || len(in.Session.History) != 2 {
		t.Fatalf("reply=%q history=%d", in.Reply, len(in.Session.History))
	}
	if _, err := SaveSession(ctx, in); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	// Next turn: an explicit yes confirms the intent proposed in turn 1.
	next, err := ValidateRequest(GraphInput{Lease: lease, Text: "sí", Seller: testSeller(t)}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if next, err = BindSession(ctx, next); err != nil {
		t.Fatalf("BindSession() error = %v", err)
	}
	if next, err = AdvanceIntent(ctx, next); err != nil {
		t.Fatalf("AdvanceIntent() error = %v", err)
	}
	if !next.Affirmative || next.PendingStatus != statex.IntentConfirmed {
		t.Fatalf("affirmative=%v status=%q", next.Affirmative, next.PendingStatus)
	}
}

func TestFinalizeReplyFallsBack(t *testing.T) {
	t.Parallel()

	out, err := FinalizeReply(&GraphState{Reply: "  "})
	if err != nil {
		t.Fatalf("FinalizeReply() error = %v", err)
	}
	if out.Reply != FallbackReply {
		t.Fatalf("reply = %q", out.Reply)
	}
	if _, err := FinalizeReply(nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("FinalizeReply(nil) error = %v", err)
	}
}

func TestBuildMessagesKeepsHistoryOrder(t *testing.T) {
	t.Parallel()

	msgs := buildMessages("system", []statex.HistoryEntry{
		{Role: statex.RoleUser, Content: "hola"},
		{Role: statex.RoleAssistant, Content: "¿en qué te ayudo?"},
	}, "lista mis contactos")
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].Content != "system" || msgs[3].Content != "lista mis contactos" {
		t.Fatalf("unexpected order: %#v", msgs)
	}
}

func newIntent(token string) *statex.PendingIntent {
	return &statex.PendingIntent{
		Token:  token,
		Kind:   statex.IntentCreateContact,
		Fields: statex.ContactFields{Name: "Ana", PhoneNumber: "5551234567", Email: "ana@example.com"},
	}
}

func TestRecordTurnDropsProposalWhenTurnFallsBack(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*GraphState){
		"empty reply": func(in *GraphState) { in.Reply = "" },
		"model error": func(in *GraphState) {
			in.Reply = FallbackReply
			in.ModelErr = errors.New("upstream 502")
		},
	}

	for name, fail := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			lease := acquire(t)
			now := time.Now()

			in, err := ValidateRequest(GraphInput{Lease: lease, Text: "crea a Ana", Seller: testSeller(t)}, func() time.Time { return now })
			if err != nil {
				t.Fatalf("ValidateRequest() error = %v", err)
			}
			if in, err = BindSession(ctx, in); err != nil {
				t.Fatalf("BindSession() error = %v", err)
			}
			if _, err := in.Session.Propose(newIntent("t1"), now); err != nil {
				t.Fatalf("Propose() error = %v", err)
			}

			fail(in)
			if in, err = RecordTurn(ctx, in, 10); err != nil {
				t.Fatalf("RecordTurn() error = %v", err)
			}
			if in.Reply != FallbackReply {
				t.Fatalf("reply = %q", in.Reply)
			}
			if in.Session.Pending != nil {
				t.Fatalf("unpresented intent kept: %#v", in.Session.Pending)
			}
		})
	}
}
