package soroban

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"
)

const (
	txTimeoutSeconds = 30
	confirmInterval  = time.Second
)

// Submitter builds, signs, and submits escrow contract invocations with
// the admin keypair. Each submission simulates first, applies the resource
// footprint, then waits for confirmation until ctx expires.
type Submitter struct {
	client     *Client
	admin      *keypair.Full
	contractID string
	passphrase string
	log        *zap.SugaredLogger
}

func NewSubmitter(client *Client, adminSecret, contractID, networkPassphrase string, log *zap.SugaredLogger) (*Submitter, error) {
	admin, err := keypair.ParseFull(adminSecret)
	if err != nil {
		return nil, fmt.Errorf("parse admin secret: %w", err)
	}
	return &Submitter{
		client:     client,
		admin:      admin,
		contractID: contractID,
		passphrase: networkPassphrase,
		log:        log,
	}, nil
}

// AdminAddress is the public key of the signing admin account.
func (s *Submitter) AdminAddress() string {
	return s.admin.Address()
}

// SubmitWithdrawal invokes withdraw(nonce, user, asset, amount).
func (s *Submitter) SubmitWithdrawal(ctx context.Context, nonce uint64, user, asset, amount string) (string, error) {
	s.log.Infow("submitting withdrawal", "nonce", nonce, "user", user, "asset", asset, "amount", amount)

	userVal, err := addressScVal(user)
	if err != nil {
		return "", err
	}
	amountVal, err := i128ScVal(amount)
	if err != nil {
		return "", err
	}
	args := []xdr.ScVal{u64ScVal(nonce), userVal, assetScVal(asset), amountVal}
	return s.invoke(ctx, "withdraw", args)
}

// SubmitSettlement invokes settle(nonce, buyer, seller, amount_a, amount_b).
func (s *Submitter) SubmitSettlement(ctx context.Context, nonce uint64, buyer, seller, amountA, amountB string) (string, error) {
	s.log.Infow("submitting settlement", "nonce", nonce, "buyer", buyer, "seller", seller,
		"amount_a", amountA, "amount_b", amountB)

	buyerVal, err := addressScVal(buyer)
	if err != nil {
		return "", err
	}
	sellerVal, err := addressScVal(seller)
	if err != nil {
		return "", err
	}
	aVal, err := i128ScVal(amountA)
	if err != nil {
		return "", err
	}
	bVal, err := i128ScVal(amountB)
	if err != nil {
		return "", err
	}
	args := []xdr.ScVal{u64ScVal(nonce), buyerVal, sellerVal, aVal, bVal}
	return s.invoke(ctx, "settle", args)
}

// invoke runs the full submission pipeline for one contract call.
func (s *Submitter) invoke(ctx context.Context, function string, args []xdr.ScVal) (string, error) {
	seq, err := s.accountSequence(ctx)
	if err != nil {
		return "", fmt.Errorf("load admin account: %w", err)
	}

	contractAddr, err := contractScAddress(s.contractID)
	if err != nil {
		return "", err
	}

	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddr,
				FunctionName:    xdr.ScSymbol(function),
				Args:            args,
			},
		},
		SourceAccount: s.admin.Address(),
	}

	buildTx := func(baseFee int64) (*txnbuild.Transaction, error) {
		return txnbuild.NewTransaction(txnbuild.TransactionParams{
			SourceAccount:        &txnbuild.SimpleAccount{AccountID: s.admin.Address(), Sequence: seq},
			IncrementSequenceNum: true,
			Operations:           []txnbuild.Operation{op},
			BaseFee:              baseFee,
			Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
		})
	}

	tx, err := buildTx(txnbuild.MinBaseFee)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	envelope, err := tx.Base64()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}

	sim, err := s.client.SimulateTransaction(ctx, envelope)
	if err != nil {
		return "", err
	}

	// Apply the simulated resource footprint and auth, then rebuild with
	// the resource fee on top of the inclusion fee.
	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
		return "", fmt.Errorf("decode transaction data: %w", err)
	}
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}

	if len(sim.Results) > 0 {
		for _, authB64 := range sim.Results[0].Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(authB64, &entry); err != nil {
				return "", fmt.Errorf("decode auth entry: %w", err)
			}
			op.Auth = append(op.Auth, entry)
		}
	}

	resourceFee, err := parseInt64(sim.MinResourceFee)
	if err != nil {
		return "", fmt.Errorf("parse resource fee: %w", err)
	}
	tx, err = buildTx(txnbuild.MinBaseFee + resourceFee)
	if err != nil {
		return "", fmt.Errorf("rebuild transaction: %w", err)
	}

	tx, err = tx.Sign(s.passphrase, s.admin)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	signed, err := tx.Base64()
	if err != nil {
		return "", fmt.Errorf("encode signed transaction: %w", err)
	}

	hash, err := s.client.SendTransaction(ctx, signed)
	if err != nil {
		return "", err
	}
	return s.awaitConfirmation(ctx, hash)
}

// awaitConfirmation polls until the transaction succeeds, fails, or ctx
// expires. Testnet confirmation can take tens of seconds.
func (s *Submitter) awaitConfirmation(ctx context.Context, hash string) (string, error) {
	ticker := time.NewTicker(confirmInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("transaction %s did not confirm: %w", hash, ctx.Err())
		case <-ticker.C:
			status, err := s.client.TransactionStatus(ctx, hash)
			if err != nil {
				continue
			}
			switch status {
			case "SUCCESS":
				s.log.Infow("transaction confirmed", "tx_hash", hash)
				return hash, nil
			case "FAILED":
				return "", fmt.Errorf("transaction %s failed on-chain", hash)
			}
		}
	}
}

// accountSequence reads the admin account's sequence number via the ledger
// entry for its account key.
func (s *Submitter) accountSequence(ctx context.Context) (int64, error) {
	accountID := xdr.MustAddress(s.admin.Address())
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, err
	}
	entryB64, err := s.client.LedgerEntry(ctx, keyB64)
	if err != nil {
		return 0, err
	}
	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(entryB64, &data); err != nil {
		return 0, err
	}
	if data.Account == nil {
		return 0, fmt.Errorf("ledger entry is not an account")
	}
	return int64(data.Account.SeqNum), nil
}

func u64ScVal(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

func addressScVal(address string) (xdr.ScVal, error) {
	if !strkey.IsValidEd25519PublicKey(address) {
		return xdr.ScVal{}, fmt.Errorf("invalid account address: %s", address)
	}
	accountID := xdr.MustAddress(address)
	addr := xdr.ScAddress{
		Type:      xdr.ScAddressTypeScAddressTypeAccount,
		AccountId: &accountID,
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
}

// assetScVal encodes the contract's asset enum: a vec holding the variant
// symbol ("A" or "B").
func assetScVal(asset string) xdr.ScVal {
	sym := xdr.ScSymbol(strings.ToUpper(asset))
	variant := xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
	vec := xdr.ScVec{variant}
	return xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &vec}
}

func i128ScVal(amount string) (xdr.ScVal, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return xdr.ScVal{}, fmt.Errorf("invalid amount: %s", amount)
	}
	hi := new(big.Int).Rsh(v, 64)
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	parts := xdr.Int128Parts{
		Hi: xdr.Int64(hi.Int64()),
		Lo: xdr.Uint64(lo.Uint64()),
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}, nil
}

func contractScAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("invalid contract id: %w", err)
	}
	var h xdr.Hash
	copy(h[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &h,
	}, nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
