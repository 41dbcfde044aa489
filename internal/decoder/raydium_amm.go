// internal/decoder/raydium_amm.go
package decoder

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Raydium legacy AMM (liquidity state v4) fixed offsets. The account is a
// flat block of little-endian u64 fields followed by the pool's public keys.
const (
	rayV4MinLen = 752

	rayV4StatusOffset    = 0
	rayV4BaseDecOffset   = 32  // baseDecimal, u64
	rayV4QuoteDecOffset  = 40  // quoteDecimal, u64
	rayV4SwapFeeNumOff   = 176 // swapFeeNumerator, u64
	rayV4SwapFeeDenomOff = 184 // swapFeeDenominator, u64
	rayV4BaseVaultOffset = 336
	rayV4QuoteVaultOff   = 368
	rayV4BaseMintOffset  = 400
	rayV4QuoteMintOffset = 432
	rayV4LPMintOffset    = 464
	rayV4LPReserveOffset = 720
)

// Raydium stable AMM (liquidity state v5) prepends an accountType u64 and
// carries four u128 swap counters, shifting the key section.
const (
	rayV5MinLen = 560

	rayV5StatusOffset    = 8
	rayV5BaseDecOffset   = 40
	rayV5QuoteDecOffset  = 48
	rayV5SwapFeeNumOff   = 208
	rayV5SwapFeeDenomOff = 216
	rayV5BaseVaultOffset = 368
	rayV5QuoteVaultOff   = 400
	rayV5BaseMintOffset  = 432
	rayV5QuoteMintOffset = 464
	rayV5LPMintOffset    = 496
)

type raydiumAMMLayout struct {
	minLen       int
	status       int
	baseDec      int
	quoteDec     int
	feeNum       int
	feeDenom     int
	baseVault    int
	quoteVault   int
	baseMint     int
	quoteMint    int
	lpMint       int
	lpReserveOff int // -1 when the layout has no lpReserve in range
}

var rayV4Layout = raydiumAMMLayout{
	minLen:       rayV4MinLen,
	status:       rayV4StatusOffset,
	baseDec:      rayV4BaseDecOffset,
	quoteDec:     rayV4QuoteDecOffset,
	feeNum:       rayV4SwapFeeNumOff,
	feeDenom:     rayV4SwapFeeDenomOff,
	baseVault:    rayV4BaseVaultOffset,
	quoteVault:   rayV4QuoteVaultOff,
	baseMint:     rayV4BaseMintOffset,
	quoteMint:    rayV4QuoteMintOffset,
	lpMint:       rayV4LPMintOffset,
	lpReserveOff: rayV4LPReserveOffset,
}

var rayV5Layout = raydiumAMMLayout{
	minLen:       rayV5MinLen,
	status:       rayV5StatusOffset,
	baseDec:      rayV5BaseDecOffset,
	quoteDec:     rayV5QuoteDecOffset,
	feeNum:       rayV5SwapFeeNumOff,
	feeDenom:     rayV5SwapFeeDenomOff,
	baseVault:    rayV5BaseVaultOffset,
	quoteVault:   rayV5QuoteVaultOff,
	baseMint:     rayV5BaseMintOffset,
	quoteMint:    rayV5QuoteMintOffset,
	lpMint:       rayV5LPMintOffset,
	lpReserveOff: -1,
}

// RaydiumAMMDecoder decodes Raydium legacy AMM and stable (v5) pool state.
type RaydiumAMMDecoder struct {
	poolType  PoolType
	programID solana.PublicKey
	layout    raydiumAMMLayout
}

func NewRaydiumAMMDecoder() *RaydiumAMMDecoder {
	return &RaydiumAMMDecoder{
		poolType:  PoolRaydiumAMM,
		programID: RaydiumAMMProgramID,
		layout:    rayV4Layout,
	}
}

func NewRaydiumAMMV5Decoder() *RaydiumAMMDecoder {
	return &RaydiumAMMDecoder{
		poolType:  PoolRaydiumAMMV5,
		programID: RaydiumAMMV5ProgramID,
		layout:    rayV5Layout,
	}
}

func (d *RaydiumAMMDecoder) Type() PoolType { return d.poolType }

func (d *RaydiumAMMDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(d.programID)
}

func (d *RaydiumAMMDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < d.layout.minLen {
		return nil, errInvalidLength(pool, len(data), d.layout.minLen)
	}
	r := newAccountReader(pool, data)

	status, err := r.U64At(d.layout.status)
	if err != nil {
		return nil, err
	}
	baseDec, err := r.U64At(d.layout.baseDec)
	if err != nil {
		return nil, err
	}
	quoteDec, err := r.U64At(d.layout.quoteDec)
	if err != nil {
		return nil, err
	}
	if baseDec > 32 || quoteDec > 32 {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "implausible decimals"}
	}

	feeNum, err := r.U64At(d.layout.feeNum)
	if err != nil {
		return nil, err
	}
	feeDenom, err := r.U64At(d.layout.feeDenom)
	if err != nil {
		return nil, err
	}
	var feeRate float64
	if feeDenom > 0 {
		feeRate = float64(feeNum) / float64(feeDenom)
	}

	baseVault, err := r.PubKeyAt(d.layout.baseVault)
	if err != nil {
		return nil, err
	}
	quoteVault, err := r.PubKeyAt(d.layout.quoteVault)
	if err != nil {
		return nil, err
	}
	baseMint, err := r.PubKeyAt(d.layout.baseMint)
	if err != nil {
		return nil, err
	}
	quoteMint, err := r.PubKeyAt(d.layout.quoteMint)
	if err != nil {
		return nil, err
	}
	lpMint, err := r.PubKeyAt(d.layout.lpMint)
	if err != nil {
		return nil, err
	}
	if baseMint.IsZero() || quoteMint.IsZero() || baseVault.IsZero() || quoteVault.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero mint or vault address"}
	}

	info := &PoolInfo{
		Address:       pool,
		ProgramID:     d.programID,
		Type:          d.poolType,
		BaseMint:      baseMint,
		QuoteMint:     quoteMint,
		BaseVault:     baseVault,
		QuoteVault:    quoteVault,
		BaseDecimals:  uint8(baseDec),
		QuoteDecimals: uint8(quoteDec),
		HasDecimals:   true,
		FeeRate:       feeRate,
		LPMint:        lpMint,
		Status:        status,
	}
	if d.layout.lpReserveOff >= 0 {
		if lpReserve, err := r.U64At(d.layout.lpReserveOff); err == nil {
			info.LPSupply = lpReserve
		}
	}
	return info, nil
}

func (d *RaydiumAMMDecoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	return vaultReserves(pool, info, accounts, slot)
}

// vaultReserves reads raw balances from the two vault token accounts in the
// supplied account set. Shared by every protocol whose reserves live in
// external SPL token accounts.
func vaultReserves(pool solana.PublicKey, info *PoolInfo, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	baseAcc, ok := accounts.get(info.BaseVault)
	if !ok {
		return nil, errMissingAccount(pool, info.BaseVault)
	}
	quoteAcc, ok := accounts.get(info.QuoteVault)
	if !ok {
		return nil, errMissingAccount(pool, info.QuoteVault)
	}

	baseReserve, err := splTokenAmount(pool, info.BaseVault, baseAcc.Data)
	if err != nil {
		return nil, err
	}
	quoteReserve, err := splTokenAmount(pool, info.QuoteVault, quoteAcc.Data)
	if err != nil {
		return nil, err
	}

	baseDec, quoteDec := info.BaseDecimals, info.QuoteDecimals
	if !info.HasDecimals {
		baseDec, quoteDec, err = mintDecimals(pool, info, accounts)
		if err != nil {
			return nil, err
		}
	}

	return &PoolReserve{
		Pool:          pool,
		BaseReserve:   baseReserve,
		QuoteReserve:  quoteReserve,
		BaseDecimals:  baseDec,
		QuoteDecimals: quoteDec,
		Slot:          slot,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// mintDecimals resolves decimals from the mint accounts for protocols whose
// pool account does not embed them.
func mintDecimals(pool solana.PublicKey, info *PoolInfo, accounts AccountSet) (uint8, uint8, error) {
	baseMintAcc, ok := accounts.get(info.BaseMint)
	if !ok {
		return 0, 0, errMissingAccount(pool, info.BaseMint)
	}
	quoteMintAcc, ok := accounts.get(info.QuoteMint)
	if !ok {
		return 0, 0, errMissingAccount(pool, info.QuoteMint)
	}
	baseDec, err := splMintDecimals(pool, info.BaseMint, baseMintAcc.Data)
	if err != nil {
		return 0, 0, err
	}
	quoteDec, err := splMintDecimals(pool, info.QuoteMint, quoteMintAcc.Data)
	if err != nil {
		return 0, 0, err
	}
	return baseDec, quoteDec, nil
}
