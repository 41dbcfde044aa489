// internal/decoder/types.go
package decoder

import (
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
)

// PoolType identifies the DEX protocol variant a pool account belongs to.
type PoolType string

const (
	PoolRaydiumAMM    PoolType = "raydium_amm"
	PoolRaydiumAMMV5  PoolType = "raydium_amm_v5"
	PoolRaydiumCPMM   PoolType = "raydium_cpmm"
	PoolRaydiumCLMM   PoolType = "raydium_clmm"
	PoolMeteoraDLMM   PoolType = "meteora_dlmm"
	PoolMeteoraDAMMV2 PoolType = "meteora_damm_v2"
	PoolOrcaWhirlpool PoolType = "orca_whirlpool"
	PoolPumpFun       PoolType = "pumpfun"
	PoolPumpSwap      PoolType = "pumpswap"
	PoolMoonit        PoolType = "moonit"
)

// PoolInfo holds the static layout of a pool account: mints, vaults and fee
// parameters extracted at protocol-specific byte offsets. Reserves are not
// part of PoolInfo; they change every slot and live in PoolReserve.
type PoolInfo struct {
	Address   solana.PublicKey
	ProgramID solana.PublicKey
	Type      PoolType

	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey

	// Vault accounts holding the pool reserves. Zero for protocols that
	// embed reserves directly in the pool account (Pump.fun curve).
	BaseVault  solana.PublicKey
	QuoteVault solana.PublicKey

	// Decimals are only populated here when the pool account itself carries
	// them (Raydium AMM/CPMM/CLMM). Otherwise DecodeReserves resolves them
	// from the mint accounts.
	BaseDecimals  uint8
	QuoteDecimals uint8
	HasDecimals   bool

	FeeRate  float64
	LPMint   solana.PublicKey
	LPSupply uint64
	Status   uint64
}

// RequiredAccounts lists the extra accounts DecodeReserves needs on top of
// the pool account itself.
func (p *PoolInfo) RequiredAccounts() []solana.PublicKey {
	var out []solana.PublicKey
	for _, k := range []solana.PublicKey{p.BaseVault, p.QuoteVault} {
		if !k.IsZero() {
			out = append(out, k)
		}
	}
	if !p.HasDecimals {
		for _, k := range []solana.PublicKey{p.BaseMint, p.QuoteMint} {
			if !k.IsZero() {
				out = append(out, k)
			}
		}
	}
	return out
}

// PoolReserve is a point-in-time snapshot of raw vault balances. Reserves
// stay in raw integer token units; decimal conversion happens only in
// Price(), never ahead of time.
type PoolReserve struct {
	Pool          solana.PublicKey
	BaseReserve   uint64
	QuoteReserve  uint64
	BaseDecimals  uint8
	QuoteDecimals uint8
	Slot          uint64
	FetchedAt     time.Time

	// VirtualPrice overrides the reserve-ratio price for concentrated
	// liquidity pools where the spot price comes from sqrtPrice, not from
	// the vault ratio. Nil means "derive from reserves".
	VirtualPrice *float64
}

// Price returns the price of the base token denominated in the quote token.
// A zero reserve yields 0.0: freshly created pools legitimately sit at zero
// for a moment, so this is "not yet priceable", not an error.
func (r *PoolReserve) Price() float64 {
	if r.VirtualPrice != nil {
		return *r.VirtualPrice
	}
	if r.BaseReserve == 0 || r.QuoteReserve == 0 {
		return 0.0
	}
	baseUI := float64(r.BaseReserve) / math.Pow10(int(r.BaseDecimals))
	quoteUI := float64(r.QuoteReserve) / math.Pow10(int(r.QuoteDecimals))
	if baseUI == 0 {
		return 0.0
	}
	return quoteUI / baseUI
}

// DecodedPool is the combined result of a full pool decode.
type DecodedPool struct {
	Info    *PoolInfo
	Reserve *PoolReserve
}

// Account is a raw on-chain account as returned by getMultipleAccounts.
type Account struct {
	Data     []byte
	Lamports uint64
	Owner    solana.PublicKey
}

// AccountSet maps account addresses to their raw on-chain state. Decoders
// look up vault and mint accounts here; a missing entry is reported as a
// MissingAccount decode error so callers can distinguish "absent on chain"
// from "transiently zero".
type AccountSet map[solana.PublicKey]*Account

func (s AccountSet) get(key solana.PublicKey) (*Account, bool) {
	acc, ok := s[key]
	if !ok || acc == nil || len(acc.Data) == 0 {
		return nil, false
	}
	return acc, true
}

// Decoder is implemented once per protocol. CanDecode must dispatch on the
// owning program alone and never inspect account bytes.
type Decoder interface {
	Type() PoolType
	CanDecode(programID solana.PublicKey) bool
	DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error)
	DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error)
}
