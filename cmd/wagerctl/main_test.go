package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-core/internal/fairness"
	"wager-core/internal/models"
)

func TestRunVerify(t *testing.T) {
	var out bytes.Buffer
	err := runVerify(&out, verifyOptions{
		serverSeed: "server-seed",
		clientSeed: "client-seed",
		nonce:      1,
		mode:       string(fairness.ModeCursor),
		commitment: fairness.HashServerSeed("server-seed"),
		expect:     0.6646030934061855,
		hasExpect:  true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "value:      0.6646030934061855")
	assert.Contains(t, out.String(), "commitment: "+fairness.HashServerSeed("server-seed"))
}

func TestRunVerifyFailures(t *testing.T) {
	base := verifyOptions{
		serverSeed: "server-seed",
		clientSeed: "client-seed",
		nonce:      1,
		mode:       string(fairness.ModeCursor),
	}

	opts := base
	opts.expect, opts.hasExpect = 0.5, true
	assert.ErrorIs(t, runVerify(&bytes.Buffer{}, opts), errMismatch)

	opts = base
	opts.commitment = fairness.HashServerSeed("other-seed")
	assert.Error(t, runVerify(&bytes.Buffer{}, opts))

	opts = base
	opts.mode = "dice"
	assert.Error(t, runVerify(&bytes.Buffer{}, opts))

	opts = base
	opts.mode = string(fairness.ModeGameKind)
	assert.Error(t, runVerify(&bytes.Buffer{}, opts), "game kind required")

	opts.gameKind = "crash"
	assert.NoError(t, runVerify(&bytes.Buffer{}, opts))
}

func TestCreditMutation(t *testing.T) {
	opts := creditOptions{
		amount:      "12.5",
		operation:   string(models.OperationBonusCredit),
		operationID: "bonus-1",
		note:        "welcome",
	}
	m, err := opts.mutation()
	require.NoError(t, err)
	assert.Equal(t, models.OperationBonusCredit, m.Operation)
	assert.Equal(t, "12.5", m.Amount.String())
	assert.Equal(t, "welcome", m.Metadata["note"])

	opts.operation = string(models.OperationWagerDebit)
	_, err = opts.mutation()
	assert.Error(t, err, "debits are not operator credits")

	opts.operation = string(models.OperationDepositCredit)
	opts.amount = "lots"
	_, err = opts.mutation()
	assert.Error(t, err)
}
