package soroban

import (
	"math/big"
	"strings"

	"github.com/stellar/go/xdr"

	"github.com/lumendark/lumendark/pkg/chain"
)

// depositTopic is the symbol the escrow contract emits on deposits.
const depositTopic = "deposit"

// DecodeDepositEvent decodes a raw contract event into a deposit. The
// contract emits:
//
//	topic[0] = symbol "deposit"
//	topic[1] = depositor address
//	value    = vec(asset enum, i128 amount)
//
// where the asset enum is itself a vec holding the variant symbol ("A" or
// "B"). Returns false for anything that does not match this shape.
func DecodeDepositEvent(ev ContractEvent) (chain.Deposit, bool) {
	if len(ev.Topics) < 2 {
		return chain.Deposit{}, false
	}

	var topic0 xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(ev.Topics[0], &topic0); err != nil {
		return chain.Deposit{}, false
	}
	if topic0.Type != xdr.ScValTypeScvSymbol || topic0.Sym == nil || string(*topic0.Sym) != depositTopic {
		return chain.Deposit{}, false
	}

	var topic1 xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(ev.Topics[1], &topic1); err != nil {
		return chain.Deposit{}, false
	}
	if topic1.Type != xdr.ScValTypeScvAddress || topic1.Address == nil {
		return chain.Deposit{}, false
	}
	user, err := topic1.Address.String()
	if err != nil {
		return chain.Deposit{}, false
	}

	var value xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(ev.Value, &value); err != nil {
		return chain.Deposit{}, false
	}
	if value.Type != xdr.ScValTypeScvVec || value.Vec == nil || len(*value.Vec) < 2 {
		return chain.Deposit{}, false
	}
	items := *value.Vec

	asset, ok := decodeAssetVariant(items[0])
	if !ok {
		return chain.Deposit{}, false
	}

	if items[1].Type != xdr.ScValTypeScvI128 || items[1].I128 == nil {
		return chain.Deposit{}, false
	}
	amount := int128String(*items[1].I128)

	return chain.Deposit{
		EventID: ev.ID,
		User:    user,
		Asset:   asset,
		Amount:  amount,
		Ledger:  ev.Ledger,
		TxHash:  ev.TxHash,
	}, true
}

// decodeAssetVariant unwraps the contract's asset enum: a vec whose first
// element is the variant symbol.
func decodeAssetVariant(v xdr.ScVal) (string, bool) {
	if v.Type != xdr.ScValTypeScvVec || v.Vec == nil || len(*v.Vec) == 0 {
		return "", false
	}
	inner := (*v.Vec)[0]
	if inner.Type != xdr.ScValTypeScvSymbol || inner.Sym == nil {
		return "", false
	}
	return strings.ToLower(string(*inner.Sym)), true
}

// int128String renders an i128 as a decimal string.
func int128String(p xdr.Int128Parts) string {
	hi := new(big.Int).SetInt64(int64(p.Hi))
	hi.Lsh(hi, 64)
	lo := new(big.Int).SetUint64(uint64(p.Lo))
	return hi.Or(hi, lo).String()
}
