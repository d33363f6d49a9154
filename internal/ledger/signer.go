package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/model"
)

// SignedTx is an UnsignedTx plus the signer's signature over its digest.
type SignedTx struct {
	Tx        model.UnsignedTx `json:"tx"`
	Signature string           `json:"signature"`
}

// Submitter accepts signed transactions and returns their tx ref.
type Submitter interface {
	Submit(ctx context.Context, stx SignedTx) (string, error)
}

// Sign produces the development-chain signature for tx. It binds the digest
// to the sending address; it is not a wallet signature scheme.
func Sign(tx model.UnsignedTx) string {
	return canonical.HashWithDomain(canonical.DomainSignature, []byte(tx.Digest+"|"+strings.ToLower(tx.From)))
}

// VerifySigned checks that stx's digest matches its contents and that the
// signature belongs to tx.From.
func VerifySigned(stx SignedTx) error {
	digest, err := Digest(stx.Tx)
	if err != nil {
		return err
	}
	if digest != stx.Tx.Digest {
		return fmt.Errorf("digest mismatch: transaction was modified after preparation")
	}
	if stx.Signature != Sign(stx.Tx) {
		return fmt.Errorf("signature does not match sender %s", stx.Tx.From)
	}
	return nil
}

// LocalSigner is a service-held key that signs and submits on its own
// behalf. Deployments without one leave ledger recreation to a human.
type LocalSigner struct {
	address string
	chain   Submitter
}

// NewLocalSigner returns a signer for address submitting to chain.
func NewLocalSigner(address string, chain Submitter) (*LocalSigner, error) {
	if !ValidSigner(address) {
		return nil, model.NewValidationError("signer", "must be 0x followed by 40 hex characters")
	}
	return &LocalSigner{address: strings.ToLower(address), chain: chain}, nil
}

// Address is the signing address.
func (s *LocalSigner) Address() string { return s.address }

// SignAndSubmit signs tx and submits it, returning the tx ref.
func (s *LocalSigner) SignAndSubmit(ctx context.Context, tx model.UnsignedTx) (string, error) {
	if !strings.EqualFold(tx.From, s.address) {
		return "", fmt.Errorf("sign: transaction is from %s, signer is %s", tx.From, s.address)
	}
	ref, err := s.chain.Submit(ctx, SignedTx{Tx: tx, Signature: Sign(tx)})
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	return ref, nil
}
