package billing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeLedger implements Ledger for guard tests.
type fakeLedger struct {
	lookup     LookupResult
	createErr  error
	created    bool
	balanceUSD float64
	balanceErr error
	rate       float64
	rateErr    error
	withdrawn  float64
	withdraws  int
	payErr     error
}

func (f *fakeLedger) LookupUser(ctx context.Context, userID string) LookupResult {
	if f.created {
		return LookupResult{Status: LookupFound, User: &User{UserID: userID, Address: "one1qq"}}
	}
	return f.lookup
}

func (f *fakeLedger) CreateUser(ctx context.Context, userID string) (*User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = true
	return &User{UserID: userID, Address: "one1qq"}, nil
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (float64, error) {
	return f.balanceUSD, f.balanceErr
}

func (f *fakeLedger) Withdraw(ctx context.Context, userID string, amountUSD float64) error {
	f.withdraws++
	if f.payErr != nil {
		return f.payErr
	}
	f.withdrawn = amountUSD
	return nil
}

func (f *fakeLedger) TokenRate(ctx context.Context) (float64, error) {
	return f.rate, f.rateErr
}

func found(addr string) LookupResult {
	return LookupResult{Status: LookupFound, User: &User{UserID: "u1", Address: addr}}
}

func TestGuard_FreeUserAlwaysApproved(t *testing.T) {
	ledger := &fakeLedger{lookup: LookupResult{Status: LookupError, Err: errors.New("down")}}
	g := NewGuard(ledger, 0.01, []string{"vip"}, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "vip", 100.0)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !authz.Proceed {
		t.Error("free user should always be approved")
	}
	if ledger.withdraws != 0 {
		t.Error("free user should not be charged")
	}
}

func TestGuard_SufficientBalanceWithdraws(t *testing.T) {
	ledger := &fakeLedger{lookup: found("one1abc"), balanceUSD: 5.00}
	g := NewGuard(ledger, 0.01, nil, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "u1", 0.17)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !authz.Proceed {
		t.Fatalf("expected approval, got rejection: %q", authz.Reason)
	}
	if ledger.withdrawn != 0.17 {
		t.Errorf("withdrawn = %v, want 0.17", ledger.withdrawn)
	}
}

func TestGuard_InsufficientBalanceRejectsWithTopUp(t *testing.T) {
	ledger := &fakeLedger{lookup: found("one1abc"), balanceUSD: 0, rate: 0.02}
	g := NewGuard(ledger, 0.01, nil, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "u1", 1.00)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if authz.Proceed {
		t.Fatal("expected rejection")
	}
	if authz.TopUpAddress != "one1abc" {
		t.Errorf("TopUpAddress = %q, want one1abc", authz.TopUpAddress)
	}
	if authz.TopUpAmountONE <= 0 {
		t.Errorf("TopUpAmountONE = %v, want > 0", authz.TopUpAmountONE)
	}
	if !strings.Contains(authz.Reason, "one1abc") {
		t.Errorf("Reason %q should contain the deposit address", authz.Reason)
	}
	if ledger.withdraws != 0 {
		t.Error("no withdrawal should happen on rejection")
	}
}

// Round-trip property: the top-up amount, converted back at the same rate,
// covers the shortfall but would not if it were one token smaller.
func TestGuard_TopUpCoversShortfall(t *testing.T) {
	const (
		price = 1.00
		slack = 0.01
		rate  = 0.0137
	)
	ledger := &fakeLedger{lookup: found("one1abc"), balanceUSD: 0.25, rate: rate}
	g := NewGuard(ledger, slack, nil, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "u1", price)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	shortfall := price + slack - 0.25
	if authz.TopUpAmountONE*rate < shortfall {
		t.Errorf("top-up %v ONE at rate %v does not cover shortfall %v USD", authz.TopUpAmountONE, rate, shortfall)
	}
	if (authz.TopUpAmountONE-1)*rate >= shortfall {
		t.Errorf("top-up %v ONE is more than one whole token above the shortfall", authz.TopUpAmountONE)
	}
}

func TestGuard_SlackCountsAgainstBalance(t *testing.T) {
	// Balance exactly equals price: the 0.01 slack tips it into rejection.
	ledger := &fakeLedger{lookup: found("one1abc"), balanceUSD: 1.00, rate: 0.02}
	g := NewGuard(ledger, 0.01, nil, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "u1", 1.00)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if authz.Proceed {
		t.Error("balance equal to price should be rejected due to slack")
	}
}

func TestGuard_NotFoundProvisionsThenChecksBalance(t *testing.T) {
	ledger := &fakeLedger{lookup: LookupResult{Status: LookupNotFound}, balanceUSD: 5.00}
	g := NewGuard(ledger, 0.01, nil, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "newuser", 0.50)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !ledger.created {
		t.Error("ledger entry should have been created")
	}
	if !authz.Proceed {
		t.Errorf("expected approval after provisioning, got %q", authz.Reason)
	}
}

func TestGuard_LookupErrorFailsClosed(t *testing.T) {
	ledger := &fakeLedger{lookup: LookupResult{Status: LookupError, Err: errors.New("connection refused")}}
	g := NewGuard(ledger, 0.01, nil, zerolog.Nop())

	_, err := g.Authorize(context.Background(), "u1", 0.50)
	if err == nil {
		t.Fatal("lookup error should fail closed")
	}
	if ledger.withdraws != 0 {
		t.Error("no withdrawal should happen on lookup failure")
	}
}

func TestGuard_WithdrawalFailureRejects(t *testing.T) {
	ledger := &fakeLedger{lookup: found("one1abc"), balanceUSD: 5.00, payErr: errors.New("settlement error")}
	g := NewGuard(ledger, 0.01, nil, zerolog.Nop())

	authz, err := g.Authorize(context.Background(), "u1", 0.50)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if authz.Proceed {
		t.Error("withdrawal failure must not authorize work")
	}
	if authz.Reason == "" {
		t.Error("rejection should carry a user-facing reason")
	}
}
