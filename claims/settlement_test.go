package claims_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-engine/claims"
	"github.com/warp/expense-engine/claims/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(t *testing.T) (*claims.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return claims.NewEngine(mem, nil), mem
}

func seedUser(t *testing.T, s claims.Store, id string) {
	t.Helper()
	u := claims.User{ID: id, Username: id, Role: claims.RoleMember}
	require.NoError(t, s.CreateUser(context.Background(), &u))
}

// seedApproved creates an approved claim and returns its ID. Claims created
// later always get larger IDs, so creation order is settlement order.
func seedApproved(t *testing.T, s claims.Store, ownerID string, amount string) int64 {
	t.Helper()
	ctx := context.Background()

	c := claims.NewClaim(ownerID, money(amount))
	require.NoError(t, s.CreateClaim(ctx, &c))
	_, err := claims.ApproveClaim(ctx, s, c.ID)
	require.NoError(t, err)
	return c.ID
}

func seedPending(t *testing.T, s claims.Store, ownerID string, amount string) int64 {
	t.Helper()
	c := claims.NewClaim(ownerID, money(amount))
	require.NoError(t, s.CreateClaim(context.Background(), &c))
	return c.ID
}

func getClaim(t *testing.T, s claims.Store, id int64) claims.Claim {
	t.Helper()
	c, err := s.GetClaim(context.Background(), id)
	require.NoError(t, err)
	return c
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestSettle_ExactPayment_SettlesSingleClaim(t *testing.T) {
	// GIVEN: One approved claim of 100
	// WHEN: A payment of exactly 100 arrives
	// THEN: The claim is fully paid, remaining hits zero, nothing is discarded

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	id := seedApproved(t, mem, "alice", "100")

	result, err := engine.Settle(context.Background(), "alice", money("100"))
	require.NoError(t, err)

	assert.Equal(t, []int64{id}, result.FullyPaid)
	assert.Nil(t, result.PartiallyPaid)
	assert.True(t, result.TotalApplied.Equal(money("100")))
	assert.True(t, result.Discarded.IsZero())

	c := getClaim(t, mem, id)
	assert.Equal(t, claims.StatusPaid, c.Status)
	assert.True(t, c.Remaining.IsZero())
}

func TestSettle_PaymentSpansClaims_OldestFullyThenPartial(t *testing.T) {
	// GIVEN: Approved claims of 60 and 80, created in that order
	// WHEN: A payment of 100 arrives
	// THEN: The older claim is fully paid, the newer is reduced to 40 and
	//       stays approved

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	first := seedApproved(t, mem, "alice", "60")
	second := seedApproved(t, mem, "alice", "80")

	result, err := engine.Settle(context.Background(), "alice", money("100"))
	require.NoError(t, err)

	assert.Equal(t, []int64{first}, result.FullyPaid)
	require.NotNil(t, result.PartiallyPaid)
	assert.Equal(t, second, *result.PartiallyPaid)
	assert.True(t, result.TotalApplied.Equal(money("100")))

	c1 := getClaim(t, mem, first)
	assert.Equal(t, claims.StatusPaid, c1.Status)

	c2 := getClaim(t, mem, second)
	assert.Equal(t, claims.StatusApproved, c2.Status)
	assert.True(t, c2.Remaining.Equal(money("40")), "got %s", c2.Remaining)
}

func TestSettle_ThreeClaims_StopsWhenPaymentExhausted(t *testing.T) {
	// GIVEN: Approved claims of 100, 50 and 30
	// WHEN: A payment of 120 arrives
	// THEN: The first two are paid in full, the third keeps 10 outstanding

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	c1 := seedApproved(t, mem, "alice", "100")
	c2 := seedApproved(t, mem, "alice", "50")
	c3 := seedApproved(t, mem, "alice", "30")

	result, err := engine.Settle(context.Background(), "alice", money("120"))
	require.NoError(t, err)

	assert.Equal(t, []int64{c1}, result.FullyPaid)
	require.NotNil(t, result.PartiallyPaid)
	assert.Equal(t, c2, *result.PartiallyPaid)
	assert.True(t, result.TotalApplied.Equal(money("120")))

	assert.True(t, getClaim(t, mem, c2).Remaining.Equal(money("30")))

	third := getClaim(t, mem, c3)
	assert.Equal(t, claims.StatusApproved, third.Status)
	assert.True(t, third.Remaining.Equal(money("30")))
}

func TestSettle_SmallPayment_PartialOnOldestOnly(t *testing.T) {
	// GIVEN: Approved claims of 60 and 80
	// WHEN: A payment of 25 arrives
	// THEN: Only the oldest claim is reduced; the newer one is untouched

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	first := seedApproved(t, mem, "alice", "60")
	second := seedApproved(t, mem, "alice", "80")

	result, err := engine.Settle(context.Background(), "alice", money("25"))
	require.NoError(t, err)

	assert.Empty(t, result.FullyPaid)
	require.NotNil(t, result.PartiallyPaid)
	assert.Equal(t, first, *result.PartiallyPaid)

	c1 := getClaim(t, mem, first)
	assert.True(t, c1.Remaining.Equal(money("35")))
	assert.Equal(t, claims.StatusApproved, c1.Status)

	c2 := getClaim(t, mem, second)
	assert.True(t, c2.Remaining.Equal(money("80")))
}

func TestSettle_SurplusPayment_AppliedCappedAndRestDiscarded(t *testing.T) {
	// GIVEN: Approved claims totalling 90
	// WHEN: A payment of 150 arrives
	// THEN: 90 is applied, both claims are paid, 60 is reported as discarded

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	first := seedApproved(t, mem, "alice", "50")
	second := seedApproved(t, mem, "alice", "40")

	result, err := engine.Settle(context.Background(), "alice", money("150"))
	require.NoError(t, err)

	assert.Equal(t, []int64{first, second}, result.FullyPaid)
	assert.Nil(t, result.PartiallyPaid)
	assert.True(t, result.TotalApplied.Equal(money("90")))
	assert.True(t, result.Discarded.Equal(money("60")))
}

func TestSettle_SequentialPayments_ProgressOldestFirst(t *testing.T) {
	// GIVEN: Three approved claims of 30, 30, 30
	// WHEN: Payments of 45 and then 45 arrive
	// THEN: The first payment pays claim 1 and half of claim 2; the second
	//       finishes claim 2 and pays claim 3

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	c1 := seedApproved(t, mem, "alice", "30")
	c2 := seedApproved(t, mem, "alice", "30")
	c3 := seedApproved(t, mem, "alice", "30")

	first, err := engine.Settle(context.Background(), "alice", money("45"))
	require.NoError(t, err)
	assert.Equal(t, []int64{c1}, first.FullyPaid)
	require.NotNil(t, first.PartiallyPaid)
	assert.Equal(t, c2, *first.PartiallyPaid)

	second, err := engine.Settle(context.Background(), "alice", money("45"))
	require.NoError(t, err)
	assert.Equal(t, []int64{c2, c3}, second.FullyPaid)
	assert.Nil(t, second.PartiallyPaid)
	assert.True(t, second.Discarded.IsZero())

	assert.Equal(t, claims.StatusPaid, getClaim(t, mem, c3).Status)
}

// =============================================================================
// GUARD AND EDGE CASES
// =============================================================================

func TestSettle_ZeroAndNegativePayments_AreNoOps(t *testing.T) {
	// GIVEN: An approved claim of 100
	// WHEN: Payments of 0 and -50 arrive
	// THEN: Nothing changes and no error is returned

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	id := seedApproved(t, mem, "alice", "100")

	for _, payment := range []string{"0", "-50"} {
		result, err := engine.Settle(context.Background(), "alice", money(payment))
		require.NoError(t, err, "payment %s", payment)
		assert.Zero(t, result.Touched())
		assert.True(t, result.TotalApplied.IsZero())
	}

	c := getClaim(t, mem, id)
	assert.True(t, c.Remaining.Equal(money("100")))
	assert.Equal(t, claims.StatusApproved, c.Status)
}

func TestSettle_NoApprovedClaims_EntirePaymentDiscarded(t *testing.T) {
	// GIVEN: A user with only a pending claim
	// WHEN: A payment of 100 arrives
	// THEN: Nothing is applied; the full payment is reported discarded and
	//       the pending claim is untouched

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	id := seedPending(t, mem, "alice", "70")

	result, err := engine.Settle(context.Background(), "alice", money("100"))
	require.NoError(t, err)

	assert.Zero(t, result.Touched())
	assert.True(t, result.TotalApplied.IsZero())
	assert.True(t, result.Discarded.Equal(money("100")))

	c := getClaim(t, mem, id)
	assert.Equal(t, claims.StatusPending, c.Status)
	assert.True(t, c.Remaining.Equal(money("70")))
}

func TestSettle_UnknownOwner_ReturnsNotFound(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Settling against a user that does not exist
	// THEN: ErrUserNotFound, nothing applied

	engine, _ := newTestEngine(t)

	result, err := engine.Settle(context.Background(), "ghost", money("10"))
	assert.ErrorIs(t, err, claims.ErrUserNotFound)
	assert.Zero(t, result.Touched())
}

func TestSettle_ZeroValueClaim_PaidWithoutConsumingPayment(t *testing.T) {
	// GIVEN: An approved zero-amount claim followed by a claim of 50
	// WHEN: A payment of 50 arrives
	// THEN: The zero claim flips to Paid for free and the payment drains
	//       the second claim

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	zero := seedApproved(t, mem, "alice", "0")
	funded := seedApproved(t, mem, "alice", "50")

	result, err := engine.Settle(context.Background(), "alice", money("50"))
	require.NoError(t, err)

	assert.Equal(t, []int64{zero, funded}, result.FullyPaid)
	assert.True(t, result.TotalApplied.Equal(money("50")))
	assert.Equal(t, claims.StatusPaid, getClaim(t, mem, zero).Status)
}

func TestSettle_FractionalAmounts_ExactDecimalArithmetic(t *testing.T) {
	// GIVEN: Approved claims of 0.10 and 0.20
	// WHEN: A payment of 0.30 arrives
	// THEN: Both settle exactly, with no float residue

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	first := seedApproved(t, mem, "alice", "0.10")
	second := seedApproved(t, mem, "alice", "0.20")

	result, err := engine.Settle(context.Background(), "alice", money("0.30"))
	require.NoError(t, err)

	assert.Equal(t, []int64{first, second}, result.FullyPaid)
	assert.True(t, result.Discarded.IsZero())
	assert.True(t, getClaim(t, mem, second).Remaining.IsZero())
}

// =============================================================================
// PROPERTY TESTS
// =============================================================================

func TestSettle_Conservation_AppliedEqualsRemainingDecrease(t *testing.T) {
	// GIVEN: A spread of approved claims
	// WHEN: A series of varied payments arrives
	// THEN: After every payment, total applied equals the decrease in total
	//       outstanding, and at most one claim is partially settled

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	for _, amt := range []string{"12.50", "3", "40", "0.75", "19.99"} {
		seedApproved(t, mem, "alice", amt)
	}

	outstanding := func() decimal.Decimal {
		cs, err := mem.ClaimsByOwnerAndStatus(context.Background(), "alice", claims.StatusApproved)
		require.NoError(t, err)
		total := decimal.Zero
		for _, c := range cs {
			total = total.Add(c.Remaining)
		}
		return total
	}

	for _, payment := range []string{"10", "0", "25.25", "1", "100"} {
		before := outstanding()

		result, err := engine.Settle(context.Background(), "alice", money(payment))
		require.NoError(t, err)

		decrease := before.Sub(outstanding())
		assert.True(t, result.TotalApplied.Equal(decrease),
			"payment %s: applied %s but outstanding dropped by %s",
			payment, result.TotalApplied, decrease)

		// Applied never exceeds either the payment or the prior debt.
		assert.True(t, result.TotalApplied.LessThanOrEqual(money(payment)))
		assert.True(t, result.TotalApplied.LessThanOrEqual(before))
	}
}

func TestSettle_PaidStatusExactlyWhenRemainingZero(t *testing.T) {
	// GIVEN: Several approved claims, partially settled
	// WHEN: Inspecting all claims afterwards
	// THEN: Status is Paid exactly for claims whose remaining is zero

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	ids := []int64{
		seedApproved(t, mem, "alice", "10"),
		seedApproved(t, mem, "alice", "20"),
		seedApproved(t, mem, "alice", "30"),
	}

	_, err := engine.Settle(context.Background(), "alice", money("25"))
	require.NoError(t, err)

	for _, id := range ids {
		c := getClaim(t, mem, id)
		if c.Remaining.IsZero() {
			assert.Equal(t, claims.StatusPaid, c.Status, "claim %d", id)
		} else {
			assert.Equal(t, claims.StatusApproved, c.Status, "claim %d", id)
		}
	}
}

func TestSettle_OnlyTargetOwnerAffected(t *testing.T) {
	// GIVEN: Approved claims for two different users
	// WHEN: Settling against one of them
	// THEN: The other user's claims never change

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	seedUser(t, mem, "bob")
	seedApproved(t, mem, "alice", "50")
	bobClaim := seedApproved(t, mem, "bob", "50")

	_, err := engine.Settle(context.Background(), "alice", money("200"))
	require.NoError(t, err)

	c := getClaim(t, mem, bobClaim)
	assert.Equal(t, claims.StatusApproved, c.Status)
	assert.True(t, c.Remaining.Equal(money("50")))
}

func TestSettle_ConcurrentSameOwner_Serialized(t *testing.T) {
	// GIVEN: Approved claims totalling 100
	// WHEN: Two payments of 60 run concurrently for the same owner
	// THEN: The combined applied amount is exactly 100 (never more),
	//       because per-owner settlements are serialized

	engine, mem := newTestEngine(t)
	seedUser(t, mem, "alice")
	seedApproved(t, mem, "alice", "40")
	seedApproved(t, mem, "alice", "60")

	var wg sync.WaitGroup
	results := make([]claims.SettlementResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Settle(context.Background(), "alice", money("60"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	applied := results[0].TotalApplied.Add(results[1].TotalApplied)
	assert.True(t, applied.Equal(money("100")), "got %s applied in total", applied)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// flakyStore fails UpdateClaim for one specific claim to force a mid-pass
// store failure inside the settlement transaction.
type flakyStore struct {
	*store.Memory
	failOn int64
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) UpdateClaim(ctx context.Context, c *claims.Claim) error {
	if c.ID == f.failOn {
		return errDiskFull
	}
	return f.Memory.UpdateClaim(ctx, c)
}

func (f *flakyStore) WithOwnerTx(ctx context.Context, ownerID string, fn func(claims.Store) error) error {
	return f.Memory.WithOwnerTx(ctx, ownerID, func(claims.Store) error {
		return fn(f)
	})
}

func TestSettle_MidPassFailure_RollsBackEverything(t *testing.T) {
	// GIVEN: Two approved claims where persisting the second will fail
	// WHEN: A payment large enough to touch both arrives
	// THEN: The error propagates and the FIRST claim's update is rolled
	//       back too; no partial application survives

	mem := store.NewMemory()
	seedUser(t, mem, "alice")
	first := seedApproved(t, mem, "alice", "30")
	second := seedApproved(t, mem, "alice", "30")

	flaky := &flakyStore{Memory: mem, failOn: second}
	engine := claims.NewEngine(flaky, nil)

	result, err := engine.Settle(context.Background(), "alice", money("60"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.Zero(t, result.Touched())
	assert.True(t, result.TotalApplied.IsZero())

	c1 := getClaim(t, mem, first)
	assert.Equal(t, claims.StatusApproved, c1.Status)
	assert.True(t, c1.Remaining.Equal(money("30")), "first claim must be restored, got %s", c1.Remaining)

	c2 := getClaim(t, mem, second)
	assert.True(t, c2.Remaining.Equal(money("30")))
}
