package bond_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/values"
)

func money(t *testing.T, amount string) values.Money {
	t.Helper()
	m, err := values.NewMoneyFromString(amount, values.USD)
	require.NoError(t, err)
	return m
}

func TestNewTransaction(t *testing.T) {
	driverID := uuid.New()
	actor := uuid.New()

	tests := []struct {
		name    string
		txnType bond.TransactionType
		amount  string
		reason  string
		wantErr string
	}{
		{name: "valid deposit", txnType: bond.TransactionDeposit, amount: "500.00"},
		{name: "valid deduction", txnType: bond.TransactionDeduction, amount: "120.50", reason: "incident penalty"},
		{name: "valid refund", txnType: bond.TransactionRefund, amount: "75.25"},
		{name: "valid negative adjustment", txnType: bond.TransactionAdjustment, amount: "-30.00", reason: "ledger correction"},
		{name: "zero deposit rejected", txnType: bond.TransactionDeposit, amount: "0", wantErr: "INVALID_AMOUNT"},
		{name: "negative deduction rejected", txnType: bond.TransactionDeduction, amount: "-10", reason: "r", wantErr: "INVALID_AMOUNT"},
		{name: "zero adjustment rejected", txnType: bond.TransactionAdjustment, amount: "0", reason: "r", wantErr: "INVALID_AMOUNT"},
		{name: "deduction without reason rejected", txnType: bond.TransactionDeduction, amount: "10", wantErr: "MISSING_REASON"},
		{name: "adjustment without reason rejected", txnType: bond.TransactionAdjustment, amount: "10", wantErr: "MISSING_REASON"},
		{name: "unknown type rejected", txnType: bond.TransactionType("BONUS"), amount: "10", wantErr: "INVALID_TXN_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := bond.NewTransaction(driverID, tt.txnType, money(t, tt.amount),
				tt.reason, "", "", "", actor)
			if tt.wantErr != "" {
				require.Error(t, err)
				var appErr *errors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.wantErr, appErr.Code)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, txn.ID)
			assert.Equal(t, driverID, txn.DriverID)
			assert.False(t, txn.CreatedAt.IsZero())
		})
	}
}

func TestSignedAmount(t *testing.T) {
	driverID := uuid.New()

	dep, err := bond.NewTransaction(driverID, bond.TransactionDeposit, money(t, "100"), "", "", "", "", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, dep.SignedAmount().Equal(money(t, "100")))

	ded, err := bond.NewTransaction(driverID, bond.TransactionDeduction, money(t, "40"), "penalty", "", "", "", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, ded.SignedAmount().Equal(money(t, "-40")))

	adj, err := bond.NewTransaction(driverID, bond.TransactionAdjustment, money(t, "-15"), "correction", "", "", "", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, adj.SignedAmount().Equal(money(t, "-15")))
}

func TestAccountApplyMaintainsFoldInvariant(t *testing.T) {
	driverID := uuid.New()
	account := bond.NewAccount(driverID, money(t, "1000"))

	entries := []struct {
		txnType bond.TransactionType
		amount  string
		reason  string
	}{
		{bond.TransactionDeposit, "1200", ""},
		{bond.TransactionDeduction, "150", "accident penalty"},
		{bond.TransactionAdjustment, "-50", "double-charge fix"},
		{bond.TransactionRefund, "25", ""},
		{bond.TransactionDeposit, "100", ""},
	}

	var applied []*bond.Transaction
	for _, e := range entries {
		txn, err := bond.NewTransaction(driverID, e.txnType, money(t, e.amount), e.reason, "", "", "", uuid.Nil)
		require.NoError(t, err)
		require.NoError(t, account.Apply(txn))
		applied = append(applied, txn)
	}

	// 1200 - 150 - 50 + 25 + 100 = 1125
	assert.True(t, account.Balance.Equal(money(t, "1125")), "balance is %s", account.Balance)
	assert.Equal(t, int64(5), account.Sequence)

	// Balance equals the fold of all transactions in creation order.
	folded := bond.FoldBalance(values.USD, applied)
	assert.True(t, folded.Equal(account.Balance))

	// Balance equals the most recent entry's snapshot.
	assert.True(t, applied[len(applied)-1].BalanceAfter.Equal(account.Balance))

	// Every snapshot equals prior balance plus the entry's signed amount.
	prev := values.Zero(values.USD)
	for _, txn := range applied {
		expected, err := prev.Add(txn.SignedAmount())
		require.NoError(t, err)
		assert.True(t, txn.BalanceAfter.Equal(expected))
		prev = txn.BalanceAfter
	}
}

func TestCheckSufficiency(t *testing.T) {
	driverID := uuid.New()
	account := bond.NewAccount(driverID, money(t, "1000"))

	s := account.CheckSufficiency()
	assert.False(t, s.CanStartShift)
	assert.True(t, s.Shortfall.Equal(money(t, "1000")))
	assert.True(t, s.Percent.Equal(decimal.Zero))

	dep, err := bond.NewTransaction(driverID, bond.TransactionDeposit, money(t, "1000"), "", "", "", "", uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, account.Apply(dep))

	s = account.CheckSufficiency()
	assert.True(t, s.CanStartShift)
	assert.True(t, s.Shortfall.IsZero())
	assert.True(t, s.Percent.Equal(decimal.NewFromInt(100)))
}

func TestLockdownTracksContinuousShortfall(t *testing.T) {
	driverID := uuid.New()
	account := bond.NewAccount(driverID, money(t, "1000"))
	grace := 72 * time.Hour

	// Fresh empty account: below threshold but within grace.
	assert.False(t, account.InLockdown(grace, time.Now()))
	// Past the grace window it locks down.
	assert.True(t, account.InLockdown(grace, time.Now().Add(74*time.Hour)))

	// Topping up clears the below-threshold clock entirely.
	dep, err := bond.NewTransaction(driverID, bond.TransactionDeposit, money(t, "1500"), "", "", "", "", uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, account.Apply(dep))
	assert.Nil(t, account.BelowSince)
	assert.False(t, account.InLockdown(grace, time.Now().Add(1000*time.Hour)))

	// A deduction that dips below restarts the clock from now, not from
	// the original shortfall.
	ded, err := bond.NewTransaction(driverID, bond.TransactionDeduction, money(t, "800"), "penalty", "", "", "", uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, account.Apply(ded))
	require.NotNil(t, account.BelowSince)
	assert.False(t, account.InLockdown(grace, time.Now()))
	assert.True(t, account.InLockdown(grace, account.BelowSince.Add(grace+time.Minute)))
}
