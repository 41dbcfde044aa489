// internal/decoder/raydium_clmm.go
package decoder

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Raydium CLMM PoolState offsets (8-byte discriminator, then bump u8).
const (
	clmmMinLen = 273

	clmmTokenMint0Offset  = 73
	clmmTokenMint1Offset  = 105
	clmmTokenVault0Offset = 137
	clmmTokenVault1Offset = 169
	clmmMint0DecOffset    = 233 // u8
	clmmMint1DecOffset    = 234 // u8
	clmmLiquidityOffset   = 237 // u128
	clmmSqrtPriceOffset   = 253 // u128, Q64.64
)

// RaydiumCLMMDecoder decodes concentrated-liquidity pool state. The spot
// price comes from sqrtPriceX64, not from the vault ratio: vault balances
// include out-of-range liquidity and fees.
type RaydiumCLMMDecoder struct{}

func NewRaydiumCLMMDecoder() *RaydiumCLMMDecoder { return &RaydiumCLMMDecoder{} }

func (d *RaydiumCLMMDecoder) Type() PoolType { return PoolRaydiumCLMM }

func (d *RaydiumCLMMDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(RaydiumCLMMProgramID)
}

func (d *RaydiumCLMMDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < clmmMinLen {
		return nil, errInvalidLength(pool, len(data), clmmMinLen)
	}
	r := newAccountReader(pool, data)

	mint0, err := r.PubKeyAt(clmmTokenMint0Offset)
	if err != nil {
		return nil, err
	}
	mint1, err := r.PubKeyAt(clmmTokenMint1Offset)
	if err != nil {
		return nil, err
	}
	vault0, err := r.PubKeyAt(clmmTokenVault0Offset)
	if err != nil {
		return nil, err
	}
	vault1, err := r.PubKeyAt(clmmTokenVault1Offset)
	if err != nil {
		return nil, err
	}
	if mint0.IsZero() || mint1.IsZero() || vault0.IsZero() || vault1.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero mint or vault address"}
	}

	dec0, err := r.U8At(clmmMint0DecOffset)
	if err != nil {
		return nil, err
	}
	dec1, err := r.U8At(clmmMint1DecOffset)
	if err != nil {
		return nil, err
	}

	return &PoolInfo{
		Address:       pool,
		ProgramID:     RaydiumCLMMProgramID,
		Type:          PoolRaydiumCLMM,
		BaseMint:      mint0,
		QuoteMint:     mint1,
		BaseVault:     vault0,
		QuoteVault:    vault1,
		BaseDecimals:  dec0,
		QuoteDecimals: dec1,
		HasDecimals:   true,
	}, nil
}

func (d *RaydiumCLMMDecoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	reserve, err := vaultReserves(pool, info, accounts, slot)
	if err != nil {
		return nil, err
	}

	r := newAccountReader(pool, data)
	sqrtPrice, err := r.U128At(clmmSqrtPriceOffset)
	if err != nil {
		return nil, err
	}
	price := priceFromSqrtX64(sqrtPrice, info.BaseDecimals, info.QuoteDecimals)
	reserve.VirtualPrice = &price
	return reserve, nil
}

var q64 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), 0)

// priceFromSqrtX64 converts a Q64.64 sqrt price into a decimal-adjusted
// quote-per-base price. decimal keeps the square exact; float64 squaring of
// an 18-decimal pool loses the low digits.
func priceFromSqrtX64(sqrtPrice *big.Int, baseDec, quoteDec uint8) float64 {
	if sqrtPrice.Sign() == 0 {
		return 0.0
	}
	s := decimal.NewFromBigInt(sqrtPrice, 0).DivRound(q64, 32)
	p := s.Mul(s).Shift(int32(baseDec) - int32(quoteDec))
	f, _ := p.Float64()
	return f
}
