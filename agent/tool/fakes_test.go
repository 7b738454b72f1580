package tool

import (
	"context"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
	crmx "github.com/tanpawarit/crm-assistant/pkg/crm"
)

type crmCall struct {
	Op     string
	Seller string
	ID     string
	Input  crmx.ContactInput
	Query  crmx.ListQuery
	Term   string
}

type fakeCRM struct {
	mu sync.Mutex

	calls     []crmCall
	found     *crmx.Contact
	page      crmx.ContactPage
	createErr error
	updateErr error
}

func (f *fakeCRM) record(c crmCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeCRM) Calls() []crmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crmCall(nil), f.calls...)
}

func (f *fakeCRM) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *fakeCRM) CreateContact(ctx context.Context, seller string, in crmx.ContactInput) (map[string]any, error) {
	f.record(crmCall{Op: "create", Seller: seller, Input: in})
	if f.createErr != nil {
		return nil, f.createErr
	}
	return map[string]any{"_id": "65a1b2c3d4e5f6a7b8c9d0e1", "name": in.Name}, nil
}

func (f *fakeCRM) UpdateContact(ctx context.Context, seller string, id string, in crmx.ContactInput) (map[string]any, error) {
	f.record(crmCall{Op: "update", Seller: seller, ID: id, Input: in})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return map[string]any{"_id": id}, nil
}

func (f *fakeCRM) ListContacts(ctx context.Context, seller string, q crmx.ListQuery) (crmx.ContactPage, error) {
	f.record(crmCall{Op: "list", Seller: seller, Query: q})
	page := f.page
	page.Page, page.Limit = q.Page, q.Limit
	return page, nil
}

func (f *fakeCRM) SearchFirst(ctx context.Context, seller string, term string) (*crmx.Contact, error) {
	f.record(crmCall{Op: "search", Seller: seller, Term: term})
	return f.found, nil
}

func mustSeller(t *testing.T, email string) identityx.Seller {
	t.Helper()
	r, err := identityx.NewResolver(identityx.Config{})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	s, _, err := r.Resolve(identityx.Event{TrustedIdentity: email})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return s
}

func newScope(t *testing.T, email string) contractx.ToolScope {
	t.Helper()
	seller := mustSeller(t, email)
	st := statex.NewSession("521555", seller.Email(), time.Now())
	st.BeginTurn(time.Now())
	return contractx.ToolScope{ConversationID: "521555", Seller: seller, Session: st}
}

func newTestGateway(t *testing.T, crm *fakeCRM) *Gateway {
	t.Helper()
	gw, err := NewGateway(crm)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return gw
}
