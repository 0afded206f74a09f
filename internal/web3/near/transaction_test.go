package near

import (
	"bytes"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
)

func TestTransferBorshLayout(t *testing.T) {
	var pk PublicKey
	copy(pk.Data[:], bytes.Repeat([]byte{1}, 32))
	var blockHash [32]byte
	copy(blockHash[:], bytes.Repeat([]byte{2}, 32))

	tx := Transaction{
		SignerID:   "a",
		PublicKey:  pk,
		Nonce:      5,
		ReceiverID: "b",
		BlockHash:  blockHash,
		Actions:    []Action{NewTransferAction(NewAmount(7))},
	}

	var want []byte
	want = append(want, 1, 0, 0, 0, 'a')
	want = append(want, 0)
	want = append(want, bytes.Repeat([]byte{1}, 32)...)
	want = append(want, 5, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, 1, 0, 0, 0, 'b')
	want = append(want, bytes.Repeat([]byte{2}, 32)...)
	want = append(want, 1, 0, 0, 0)
	want = append(want, 3, 7)
	want = append(want, make([]byte, 15)...)

	got, err := borsh.Serialize(tx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSignedTransactionRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	allowance := MustParseNEAR("0.25").U128()

	tx := Transaction{
		SignerID:   "seller.test.near",
		PublicKey:  kp.PublicKey(),
		Nonce:      42,
		ReceiverID: "nft.test.near",
		Actions: []Action{
			NewFunctionCallAction("nft_approve", []byte(`{"token_id":"1:1"}`), 100_000_000_000_000, MustParseYocto("440000000000000000000")),
			NewAddKeyAction(kp.PublicKey(), &FunctionCallPermission{Allowance: &allowance, ReceiverID: "market.test.near", MethodNames: []string{"add_bid"}}),
			NewDeleteAccountAction("test.near"),
		},
	}
	signed, err := SignTransaction(tx, kp)
	require.NoError(t, err)

	encoded, err := signed.Encode()
	require.NoError(t, err)
	decoded, err := DecodeSignedTransaction(encoded)
	require.NoError(t, err)

	assert.Equal(t, signed, decoded)
	assert.Equal(t, "FunctionCall", decoded.Transaction.Actions[0].Kind())
	assert.Equal(t, "nft_approve", decoded.Transaction.Actions[0].FunctionCall.MethodName)
	perm := decoded.Transaction.Actions[1].AddKey.AccessKey.Permission
	assert.False(t, perm.IsFullAccess())
	require.NotNil(t, perm.FunctionCall.Allowance)
	assert.Equal(t, "0.25", AmountFromU128(*perm.FunctionCall.Allowance).FormatNEAR())

	hash, err := decoded.Transaction.Hash()
	require.NoError(t, err)
	assert.True(t, kp.PublicKey().Verify(hash[:], decoded.Signature))
}

func TestUnlimitedFunctionCallKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	zero := Balance{}

	tests := []struct {
		name  string
		perms []*Balance
	}{
		{name: "unlimited", perms: []*Balance{nil}},
		{name: "zero allowance", perms: []*Balance{&zero}},
		{name: "mixed", perms: []*Balance{&zero, nil, &zero}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := Transaction{SignerID: "alice.test.near", PublicKey: kp.PublicKey(), Nonce: 7, ReceiverID: "alice.test.near"}
			for _, allowance := range tt.perms {
				other, err := GenerateKeyPair()
				require.NoError(t, err)
				tx.Actions = append(tx.Actions, NewAddKeyAction(other.PublicKey(), &FunctionCallPermission{
					Allowance:   allowance,
					ReceiverID:  "nft.test.near",
					MethodNames: []string{"nft_revoke"},
				}))
			}
			signed, err := SignTransaction(tx, kp)
			require.NoError(t, err)
			encoded, err := signed.Encode()
			require.NoError(t, err)

			decoded, digest, err := DecodeSignedTransactionDigest(encoded)
			require.NoError(t, err)
			assert.Equal(t, signed, decoded)
			want, err := tx.Hash()
			require.NoError(t, err)
			assert.Equal(t, want, digest)
			rehashed, err := decoded.Transaction.Hash()
			require.NoError(t, err)
			assert.True(t, kp.PublicKey().Verify(rehashed[:], decoded.Signature))

			reencoded, err := decoded.Encode()
			require.NoError(t, err)
			assert.Equal(t, encoded, reencoded)
		})
	}
}

func TestDecodeSignedTransactionRejectsTruncated(t *testing.T) {
	_, _, err := DecodeSignedTransactionDigest("AAAA")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestParseHash(t *testing.T) {
	_, err := ParseHash("not-a-hash")
	assert.Error(t, err)

	hash, err := ParseHash(EmptyCodeHash)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, hash)
}
