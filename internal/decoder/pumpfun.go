// internal/decoder/pumpfun.go
package decoder

import (
	"bytes"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor discriminator for the Pump.fun BondingCurve account.
var pumpBondingCurveDiscriminator = []byte{0x17, 0xb7, 0xf8, 0x37, 0x60, 0xd8, 0xac, 0x60}

const (
	pumpCurveMinLen = 8 + 8*5 + 1

	// Pump.fun tokens are always minted with 6 decimals; the quote side
	// is SOL lamports.
	pumpTokenDecimals = 6
	pumpSolDecimals   = 9
)

// bondingCurveState is the borsh payload after the discriminator.
type bondingCurveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// PumpFunDecoder decodes bonding-curve accounts. Reserves are embedded in
// the curve account itself; the virtual reserves define the spot price.
// The curve account does not record the token mint, so BaseMint stays zero
// and the pipeline fills it from the watch entry.
type PumpFunDecoder struct{}

func NewPumpFunDecoder() *PumpFunDecoder { return &PumpFunDecoder{} }

func (d *PumpFunDecoder) Type() PoolType { return PoolPumpFun }

func (d *PumpFunDecoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(PumpFunProgramID)
}

func (d *PumpFunDecoder) decodeState(pool solana.PublicKey, data []byte) (*bondingCurveState, error) {
	if len(data) < pumpCurveMinLen {
		return nil, errInvalidLength(pool, len(data), pumpCurveMinLen)
	}
	if !bytes.Equal(data[:8], pumpBondingCurveDiscriminator) {
		return nil, errInvalidDiscriminator(pool)
	}
	var state bondingCurveState
	if err := bin.NewBorshDecoder(data[8:]).Decode(&state); err != nil {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: err.Error()}
	}
	return &state, nil
}

func (d *PumpFunDecoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	state, err := d.decodeState(pool, data)
	if err != nil {
		return nil, err
	}
	var status uint64
	if state.Complete {
		status = 1
	}
	return &PoolInfo{
		Address:       pool,
		ProgramID:     PumpFunProgramID,
		Type:          PoolPumpFun,
		QuoteMint:     WSOLMint,
		BaseDecimals:  pumpTokenDecimals,
		QuoteDecimals: pumpSolDecimals,
		HasDecimals:   true,
		LPSupply:      state.TokenTotalSupply,
		Status:        status,
	}, nil
}

func (d *PumpFunDecoder) DecodeReserves(pool solana.PublicKey, data []byte, _ AccountSet, slot uint64) (*PoolReserve, error) {
	state, err := d.decodeState(pool, data)
	if err != nil {
		return nil, err
	}
	return &PoolReserve{
		Pool:          pool,
		BaseReserve:   state.VirtualTokenReserves,
		QuoteReserve:  state.VirtualSolReserves,
		BaseDecimals:  pumpTokenDecimals,
		QuoteDecimals: pumpSolDecimals,
		Slot:          slot,
		FetchedAt:     time.Now().UTC(),
	}, nil
}
