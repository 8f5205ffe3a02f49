package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]string{
		{domain.TxStateInitiated, domain.TxStateChargePending},
		{domain.TxStateChargePending, domain.TxStateChargePending},
		{domain.TxStateChargePending, domain.TxStateChargeSucceeded},
		{domain.TxStateChargePending, domain.TxStateChargeFailed},
		{domain.TxStateChargeSucceeded, domain.TxStateTransferPending},
		{domain.TxStateTransferPending, domain.TxStateCompleted},
		{domain.TxStateTransferPending, domain.TxStateTransferFailed},
	}
	for _, edge := range legal {
		assert.True(t, canTransition(edge[0], edge[1]), "%s -> %s should be legal", edge[0], edge[1])
	}

	illegal := [][2]string{
		{domain.TxStateInitiated, domain.TxStateCompleted},
		{domain.TxStateChargeFailed, domain.TxStateChargePending},
		{domain.TxStateCompleted, domain.TxStateTransferFailed},
		{domain.TxStateTransferFailed, domain.TxStateCompleted},
		{domain.TxStateChargeSucceeded, domain.TxStateCompleted},
		{"bogus", domain.TxStateCompleted},
	}
	for _, edge := range illegal {
		assert.False(t, canTransition(edge[0], edge[1]), "%s -> %s should be illegal", edge[0], edge[1])
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, state := range []string{domain.TxStateCompleted, domain.TxStateChargeFailed, domain.TxStateTransferFailed} {
		assert.True(t, domain.IsTerminalState(state))
		assert.Empty(t, transactionTransitions[state])
	}
}
