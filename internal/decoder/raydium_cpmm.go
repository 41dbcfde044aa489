// internal/decoder/raydium_cpmm.go
package decoder

import (
	"github.com/gagliardetto/solana-go"
)

// Raydium CPMM PoolState offsets, all past the 8-byte anchor discriminator.
const (
	cpmmMinLen = 341

	cpmmAmmConfigOffset   = 8
	cpmmToken0VaultOffset = 72
	cpmmToken1VaultOffset = 104
	cpmmLPMintOffset      = 136
	cpmmToken0MintOffset  = 168
	cpmmToken1MintOffset  = 200
	cpmmStatusOffset      = 329 // u8
	cpmmMint0DecOffset    = 331 // u8
	cpmmMint1DecOffset    = 332 // u8
	cpmmLPSupplyOffset    = 333 // u64
)

// RaydiumCPMMDecoder decodes the constant-product (CP-Swap) pool state.
// The trade fee lives in the separate AmmConfig account and is not needed
// for pricing, so FeeRate is left at zero here.
type RaydiumCPMMDecoder struct{}

func NewRaydiumCPMMDecoder() *RaydiumCPMMDecoder { return &RaydiumCPMMDecoder{} }

func (d *RaydiumCPMMDecoder) Type() PoolType { return PoolRaydiumCPMM }

func (d *RaydiumCPMMDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(RaydiumCPMMProgramID)
}

func (d *RaydiumCPMMDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < cpmmMinLen {
		return nil, errInvalidLength(pool, len(data), cpmmMinLen)
	}
	r := newAccountReader(pool, data)

	token0Vault, err := r.PubKeyAt(cpmmToken0VaultOffset)
	if err != nil {
		return nil, err
	}
	token1Vault, err := r.PubKeyAt(cpmmToken1VaultOffset)
	if err != nil {
		return nil, err
	}
	lpMint, err := r.PubKeyAt(cpmmLPMintOffset)
	if err != nil {
		return nil, err
	}
	token0Mint, err := r.PubKeyAt(cpmmToken0MintOffset)
	if err != nil {
		return nil, err
	}
	token1Mint, err := r.PubKeyAt(cpmmToken1MintOffset)
	if err != nil {
		return nil, err
	}
	if token0Mint.IsZero() || token1Mint.IsZero() || token0Vault.IsZero() || token1Vault.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero mint or vault address"}
	}

	status, err := r.U8At(cpmmStatusOffset)
	if err != nil {
		return nil, err
	}
	mint0Dec, err := r.U8At(cpmmMint0DecOffset)
	if err != nil {
		return nil, err
	}
	mint1Dec, err := r.U8At(cpmmMint1DecOffset)
	if err != nil {
		return nil, err
	}
	lpSupply, err := r.U64At(cpmmLPSupplyOffset)
	if err != nil {
		return nil, err
	}

	return &PoolInfo{
		Address:       pool,
		ProgramID:     RaydiumCPMMProgramID,
		Type:          PoolRaydiumCPMM,
		BaseMint:      token0Mint,
		QuoteMint:     token1Mint,
		BaseVault:     token0Vault,
		QuoteVault:    token1Vault,
		BaseDecimals:  mint0Dec,
		QuoteDecimals: mint1Dec,
		HasDecimals:   true,
		LPMint:        lpMint,
		LPSupply:      lpSupply,
		Status:        uint64(status),
	}, nil
}

func (d *RaydiumCPMMDecoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	return vaultReserves(pool, info, accounts, slot)
}
