package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyValidate(t *testing.T) {
	require.NoError(t, NewMoney(500, "usd").Validate())

	assert.Error(t, NewMoney(0, "USD").Validate())
	assert.Error(t, NewMoney(-100, "USD").Validate())
	assert.Error(t, NewMoney(100, "XXX").Validate())
	assert.Error(t, NewMoney(100, "").Validate())
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "5.00 USD", NewMoney(500, "USD").String())
	assert.Equal(t, "0.01 EUR", NewMoney(1, "eur").String())
	assert.Equal(t, "500 JPY", NewMoney(500, "JPY").String())
}

func TestIsTerminalState(t *testing.T) {
	for _, state := range []string{TxStateCompleted, TxStateChargeFailed, TxStateTransferFailed} {
		assert.True(t, IsTerminalState(state), state)
	}
	for _, state := range []string{TxStateInitiated, TxStateChargePending, TxStateChargeSucceeded, TxStateTransferPending} {
		assert.False(t, IsTerminalState(state), state)
	}
}
