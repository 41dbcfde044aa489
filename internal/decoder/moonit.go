// internal/decoder/moonit.go
package decoder

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Moonit (Moonshot) CurveAccount offsets. The SOL side of the curve lives
// in the curve account's lamport balance, not in the account data.
const (
	moonitMinLen = 8 + 8 + 8 + 32 + 3

	moonitTotalSupplyOffset = 8
	moonitCurveAmountOffset = 16
	moonitMintOffset        = 24
	moonitDecimalsOffset    = 56 // u8
)

// MoonitDecoder decodes Moonshot bonding-curve accounts. The pool's own
// entry must be present in the account set so the lamport balance is
// available as the quote-side reserve.
type MoonitDecoder struct{}

func NewMoonitDecoder() *MoonitDecoder { return &MoonitDecoder{} }

func (d *MoonitDecoder) Type() PoolType { return PoolMoonit }

func (d *MoonitDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(MoonitProgramID)
}

func (d *MoonitDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < moonitMinLen {
		return nil, errInvalidLength(pool, len(data), moonitMinLen)
	}
	r := newAccountReader(pool, data)

	totalSupply, err := r.U64At(moonitTotalSupplyOffset)
	if err != nil {
		return nil, err
	}
	mint, err := r.PubKeyAt(moonitMintOffset)
	if err != nil {
		return nil, err
	}
	dec, err := r.U8At(moonitDecimalsOffset)
	if err != nil {
		return nil, err
	}
	if mint.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero curve mint"}
	}
	if dec > 32 {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "implausible decimals"}
	}

	return &PoolInfo{
		Address:       pool,
		ProgramID:     MoonitProgramID,
		Type:          PoolMoonit,
		BaseMint:      mint,
		QuoteMint:     WSOLMint,
		BaseDecimals:  dec,
		QuoteDecimals: 9,
		HasDecimals:   true,
		LPSupply:      totalSupply,
	}, nil
}

func (d *MoonitDecoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	r := newAccountReader(pool, data)
	curveAmount, err := r.U64At(moonitCurveAmountOffset)
	if err != nil {
		return nil, err
	}

	self, ok := accounts[pool]
	if !ok || self == nil {
		return nil, errMissingAccount(pool, pool)
	}

	return &PoolReserve{
		Pool:          pool,
		BaseReserve:   curveAmount,
		QuoteReserve:  self.Lamports,
		BaseDecimals:  info.BaseDecimals,
		QuoteDecimals: info.QuoteDecimals,
		Slot:          slot,
		FetchedAt:     time.Now().UTC(),
	}, nil
}
