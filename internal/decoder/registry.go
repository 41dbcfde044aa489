// internal/decoder/registry.go
package decoder

import (
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Registry holds the per-protocol decoders and dispatches by owning
// program. Dispatch is first-match on CanDecode; program IDs are disjoint
// so ordering only matters for lookup cost.
type Registry struct {
	decoders []Decoder
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("decoder-registry"),
		decoders: []Decoder{
			NewRaydiumAMMDecoder(),
			NewRaydiumAMMV5Decoder(),
			NewRaydiumCPMMDecoder(),
			NewRaydiumCLMMDecoder(),
			NewMeteoraDLMMDecoder(),
			NewMeteoraDAMMV2Decoder(),
			NewWhirlpoolDecoder(),
			NewPumpFunDecoder(),
			NewPumpSwapDecoder(),
			NewMoonitDecoder(),
		},
	}
}

// Find returns the decoder responsible for accounts owned by programID.
func (r *Registry) Find(programID solana.PublicKey) (Decoder, bool) {
	for _, d := range r.decoders {
		if d.CanDecode(programID) {
			return d, true
		}
	}
	return nil, false
}

// Supported reports whether any registered decoder handles the program.
func (r *Registry) Supported(programID solana.PublicKey) bool {
	_, ok := r.Find(programID)
	return ok
}

// Decode runs the full info+reserves decode for a pool account owned by
// programID. Unknown owners return an UnsupportedVariant decode error so
// the caller can fall back to API pricing.
func (r *Registry) Decode(pool, programID solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*DecodedPool, error) {
	d, ok := r.Find(programID)
	if !ok {
		return nil, &DecodeError{
			Kind: KindUnsupportedVariant,
			Pool: pool,
			Msg:  "no decoder for program " + programID.String(),
		}
	}

	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		r.logger.Debug("pool info decode failed",
			zap.String("pool", pool.String()),
			zap.String("program_id", programID.String()),
			zap.Int("data_len", len(data)),
			zap.Error(err))
		return nil, err
	}

	reserve, err := d.DecodeReserves(pool, data, accounts, slot)
	if err != nil {
		r.logger.Debug("reserve decode failed",
			zap.String("pool", pool.String()),
			zap.String("pool_type", string(info.Type)),
			zap.Error(err))
		return nil, err
	}

	return &DecodedPool{Info: info, Reserve: reserve}, nil
}
