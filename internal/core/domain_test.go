package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTransaction() Transaction {
	return Transaction{
		TransactionID: "TXN00001",
		Amount:        decimal.RequireFromString("-87.18"),
		Timestamp:     time.Date(2024, 5, 16, 7, 22, 18, 0, time.UTC),
		Description:   "Municipal Tax Payment",
		Type:          Debit,
		AccountNumber: "NLINGB1944573686",
	}
}

func TestTransactionValidate(t *testing.T) {
	require.NoError(t, validTransaction().Validate())

	bads := []func(*Transaction){
		func(tx *Transaction) { tx.TransactionID = " " },
		func(tx *Transaction) { tx.Description = "" },
		func(tx *Transaction) { tx.Timestamp = time.Time{} },
		func(tx *Transaction) { tx.Type = "transfer" },
		func(tx *Transaction) { tx.AccountNumber = "" },
	}
	for i, mutate := range bads {
		tx := validTransaction()
		mutate(&tx)
		err := tx.Validate()
		if assert.Error(t, err, "case %d", i) {
			assert.True(t, errors.Is(err, ErrInvalidTransaction), "case %d: %v", i, err)
		}
	}
}

func TestParseTransactionType(t *testing.T) {
	cases := []struct {
		in   string
		want TransactionType
		ok   bool
	}{
		{"debit", Debit, true},
		{" Credit ", Credit, true},
		{"DEBIT", Debit, true},
		{"refund", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseTransactionType(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransaction, tc.in)
		}
	}
}

func TestIsCategorized(t *testing.T) {
	tx := validTransaction()
	assert.False(t, tx.IsCategorized())
	tx.Category = &Category{ID: 1, Name: "utilities"}
	assert.True(t, tx.IsCategorized())
}

func TestIsKnownCategory(t *testing.T) {
	for _, name := range Vocabulary {
		assert.True(t, IsKnownCategory(name), name)
	}
	assert.False(t, IsKnownCategory("Dining_Out"))
	assert.False(t, IsKnownCategory(""))
}
