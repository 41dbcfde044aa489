// internal/decoder/pumpswap.go
package decoder

import (
	"bytes"

	"github.com/gagliardetto/solana-go"
)

// Anchor discriminator for the PumpSwap Pool account.
var pumpSwapPoolDiscriminator = []byte{241, 154, 109, 4, 17, 177, 109, 188}

// PumpSwap Pool: discriminator, pool_bump u8, index u16, then six pubkeys
// and the LP supply.
const (
	pumpSwapMinLen = 8 + 1 + 2 + 32*6 + 8

	pumpSwapBaseMintOffset   = 8 + 1 + 2 + 32 // after creator
	pumpSwapQuoteMintOffset  = pumpSwapBaseMintOffset + 32
	pumpSwapLPMintOffset     = pumpSwapQuoteMintOffset + 32
	pumpSwapBaseVaultOffset  = pumpSwapLPMintOffset + 32
	pumpSwapQuoteVaultOffset = pumpSwapBaseVaultOffset + 32
	pumpSwapLPSupplyOffset   = pumpSwapQuoteVaultOffset + 32
)

// PumpSwapDecoder decodes Pump.fun AMM (PumpSwap) pool accounts, the venue
// tokens graduate to after the bonding curve completes.
type PumpSwapDecoder struct{}

func NewPumpSwapDecoder() *PumpSwapDecoder { return &PumpSwapDecoder{} }

func (d *PumpSwapDecoder) Type() PoolType { return PoolPumpSwap }

func (d *PumpSwapDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(PumpSwapProgramID)
}

func (d *PumpSwapDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < pumpSwapMinLen {
		return nil, errInvalidLength(pool, len(data), pumpSwapMinLen)
	}
	if !bytes.Equal(data[:8], pumpSwapPoolDiscriminator) {
		return nil, errInvalidDiscriminator(pool)
	}
	r := newAccountReader(pool, data)

	baseMint, err := r.PubKeyAt(pumpSwapBaseMintOffset)
	if err != nil {
		return nil, err
	}
	quoteMint, err := r.PubKeyAt(pumpSwapQuoteMintOffset)
	if err != nil {
		return nil, err
	}
	lpMint, err := r.PubKeyAt(pumpSwapLPMintOffset)
	if err != nil {
		return nil, err
	}
	baseVault, err := r.PubKeyAt(pumpSwapBaseVaultOffset)
	if err != nil {
		return nil, err
	}
	quoteVault, err := r.PubKeyAt(pumpSwapQuoteVaultOffset)
	if err != nil {
		return nil, err
	}
	lpSupply, err := r.U64At(pumpSwapLPSupplyOffset)
	if err != nil {
		return nil, err
	}
	if baseMint.IsZero() || quoteMint.IsZero() || baseVault.IsZero() || quoteVault.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero mint or vault address"}
	}

	return &PoolInfo{
		Address:    pool,
		ProgramID:  PumpSwapProgramID,
		Type:       PoolPumpSwap,
		BaseMint:   baseMint,
		QuoteMint:  quoteMint,
		BaseVault:  baseVault,
		QuoteVault: quoteVault,
		LPMint:     lpMint,
		LPSupply:   lpSupply,
	}, nil
}

func (d *PumpSwapDecoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	return vaultReserves(pool, info, accounts, slot)
}
