// internal/decoder/whirlpool.go
package decoder

import (
	"github.com/gagliardetto/solana-go"
)

// Orca Whirlpool account offsets (8-byte discriminator first).
const (
	whirlpoolMinLen = 245

	whirlpoolFeeRateOffset   = 45 // u16, hundredths of a basis point
	whirlpoolSqrtPriceOffset = 65 // u128, Q64.64
	whirlpoolMintAOffset     = 101
	whirlpoolVaultAOffset    = 133
	whirlpoolMintBOffset     = 181
	whirlpoolVaultBOffset    = 213
)

// WhirlpoolDecoder decodes Orca Whirlpool state. Decimals are not embedded
// in the account, so DecodeReserves resolves them from the mint accounts.
type WhirlpoolDecoder struct{}

func NewWhirlpoolDecoder() *WhirlpoolDecoder { return &WhirlpoolDecoder{} }

func (d *WhirlpoolDecoder) Type() PoolType { return PoolOrcaWhirlpool }

func (d *WhirlpoolDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(WhirlpoolProgramID)
}

func (d *WhirlpoolDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < whirlpoolMinLen {
		return nil, errInvalidLength(pool, len(data), whirlpoolMinLen)
	}
	r := newAccountReader(pool, data)

	feeRate, err := r.U16At(whirlpoolFeeRateOffset)
	if err != nil {
		return nil, err
	}
	mintA, err := r.PubKeyAt(whirlpoolMintAOffset)
	if err != nil {
		return nil, err
	}
	vaultA, err := r.PubKeyAt(whirlpoolVaultAOffset)
	if err != nil {
		return nil, err
	}
	mintB, err := r.PubKeyAt(whirlpoolMintBOffset)
	if err != nil {
		return nil, err
	}
	vaultB, err := r.PubKeyAt(whirlpoolVaultBOffset)
	if err != nil {
		return nil, err
	}
	if mintA.IsZero() || mintB.IsZero() || vaultA.IsZero() || vaultB.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero mint or vault address"}
	}

	return &PoolInfo{
		Address:    pool,
		ProgramID:  WhirlpoolProgramID,
		Type:       PoolOrcaWhirlpool,
		BaseMint:   mintA,
		QuoteMint:  mintB,
		BaseVault:  vaultA,
		QuoteVault: vaultB,
		FeeRate:    float64(feeRate) / 1_000_000,
	}, nil
}

func (d *WhirlpoolDecoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	reserve, err := vaultReserves(pool, info, accounts, slot)
	if err != nil {
		return nil, err
	}

	r := newAccountReader(pool, data)
	sqrtPrice, err := r.U128At(whirlpoolSqrtPriceOffset)
	if err != nil {
		return nil, err
	}
	price := priceFromSqrtX64(sqrtPrice, reserve.BaseDecimals, reserve.QuoteDecimals)
	reserve.VirtualPrice = &price
	return reserve, nil
}
