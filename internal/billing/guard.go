package billing

import (
	"context"
	"fmt"
	"math"

	"github.com/onewave/voicememo/internal/metrics"
	"github.com/rs/zerolog"
)

// Ledger is the subset of the payments service the guard needs.
type Ledger interface {
	LookupUser(ctx context.Context, userID string) LookupResult
	CreateUser(ctx context.Context, userID string) (*User, error)
	Balance(ctx context.Context, userID string) (float64, error)
	Withdraw(ctx context.Context, userID string, amountUSD float64) error
	TokenRate(ctx context.Context) (float64, error)
}

// Authorization is the guard's decision for one request. It is made exactly
// once per request and never revisited mid-pipeline.
type Authorization struct {
	Proceed bool

	// User-facing explanation when Proceed is false.
	Reason string

	// Top-up remediation, set only for insufficient-balance rejections.
	TopUpAddress   string
	TopUpAmountONE float64
}

// Guard performs balance-gated admission control: estimate in hand, it
// checks (and if needed creates) the user's ledger entry, rejects with a
// top-up instruction on shortfall, and withdraws the estimate on approval.
type Guard struct {
	ledger   Ledger
	slackUSD float64
	free     map[string]struct{}
	log      zerolog.Logger
}

// NewGuard creates an admission-control guard. freeUsers bypass all balance
// checks and withdrawals.
func NewGuard(ledger Ledger, slackUSD float64, freeUsers []string, log zerolog.Logger) *Guard {
	free := make(map[string]struct{}, len(freeUsers))
	for _, u := range freeUsers {
		free[u] = struct{}{}
	}
	return &Guard{ledger: ledger, slackUSD: slackUSD, free: free, log: log}
}

// Authorize decides whether work priced at priceUSD may proceed for userID.
// A returned error means the decision could not be made (ledger unreachable)
// and the caller must fail closed. A rejection is not an error.
//
// On approval the withdrawal has already happened. If the transcription call
// fails afterwards the funds are spent with no refund path; that matches the
// payments service's settlement model.
func (g *Guard) Authorize(ctx context.Context, userID string, priceUSD float64) (Authorization, error) {
	if _, ok := g.free[userID]; ok {
		g.log.Debug().Str("user_id", userID).Msg("free user, skipping balance check")
		metrics.AuthorizationsTotal.WithLabelValues("approved").Inc()
		return Authorization{Proceed: true}, nil
	}

	user, err := g.lookupOrCreate(ctx, userID)
	if err != nil {
		metrics.AuthorizationsTotal.WithLabelValues("error").Inc()
		return Authorization{}, err
	}

	balanceUSD, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		metrics.AuthorizationsTotal.WithLabelValues("error").Inc()
		return Authorization{}, err
	}

	shortfall := priceUSD + g.slackUSD - balanceUSD
	if shortfall > 0 {
		rate, err := g.ledger.TokenRate(ctx)
		if err != nil {
			metrics.AuthorizationsTotal.WithLabelValues("error").Inc()
			return Authorization{}, err
		}
		// Whole tokens, rounded up so the deposit always covers the shortfall.
		topUp := math.Ceil(shortfall / rate)

		g.log.Info().
			Str("user_id", userID).
			Float64("balance_usd", balanceUSD).
			Float64("price_usd", priceUSD).
			Float64("top_up_one", topUp).
			Msg("insufficient balance")
		metrics.AuthorizationsTotal.WithLabelValues("rejected").Inc()

		return Authorization{
			Reason: fmt.Sprintf(
				"Insufficient balance. Please send %.0f ONE to %s and try again.",
				topUp, user.Address),
			TopUpAddress:   user.Address,
			TopUpAmountONE: topUp,
		}, nil
	}

	if err := g.ledger.Withdraw(ctx, userID, priceUSD); err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Float64("price_usd", priceUSD).Msg("withdrawal failed")
		metrics.AuthorizationsTotal.WithLabelValues("rejected").Inc()
		return Authorization{Reason: "Payment failed. Please try again later."}, nil
	}

	g.log.Info().Str("user_id", userID).Float64("price_usd", priceUSD).Msg("funds withdrawn")
	metrics.AuthorizationsTotal.WithLabelValues("approved").Inc()
	return Authorization{Proceed: true}, nil
}

// lookupOrCreate resolves the ledger entry, provisioning it on first contact.
func (g *Guard) lookupOrCreate(ctx context.Context, userID string) (*User, error) {
	res := g.ledger.LookupUser(ctx, userID)
	switch res.Status {
	case LookupFound:
		return res.User, nil
	case LookupNotFound:
		g.log.Info().Str("user_id", userID).Msg("provisioning ledger entry")
		user, err := g.ledger.CreateUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return user, nil
	default:
		return nil, fmt.Errorf("ledger lookup: %w", res.Err)
	}
}
