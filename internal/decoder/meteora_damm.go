// internal/decoder/meteora_damm.go
package decoder

import (
	"github.com/gagliardetto/solana-go"
)

// Meteora DAMM v2 (cp-amm) pool offsets: 8-byte discriminator followed by
// a 160-byte fee struct, then the mint/vault section.
const (
	dammV2MinLen = 296

	dammV2TokenAMintOffset  = 168
	dammV2TokenBMintOffset  = 200
	dammV2TokenAVaultOffset = 232
	dammV2TokenBVaultOffset = 264
)

// MeteoraDAMMV2Decoder decodes DAMM v2 pool accounts. Decimals come from
// the mint accounts; reserves from the vault token accounts.
type MeteoraDAMMV2Decoder struct{}

func NewMeteoraDAMMV2Decoder() *MeteoraDAMMV2Decoder { return &MeteoraDAMMV2Decoder{} }

func (d *MeteoraDAMMV2Decoder) Type() PoolType { return PoolMeteoraDAMMV2 }

func (d *MeteoraDAMMV2Decoder) CanDecode(programID solana.PublicKey) bool {
	return programID.Equals(MeteoraDAMMV2ProgramID)
}

func (d *MeteoraDAMMV2Decoder) DecodePoolInfo(pool solana.PublicKey, data []byte) (*PoolInfo, error) {
	if len(data) < dammV2MinLen {
		return nil, errInvalidLength(pool, len(data), dammV2MinLen)
	}
	r := newAccountReader(pool, data)

	tokenAMint, err := r.PubKeyAt(dammV2TokenAMintOffset)
	if err != nil {
		return nil, err
	}
	tokenBMint, err := r.PubKeyAt(dammV2TokenBMintOffset)
	if err != nil {
		return nil, err
	}
	tokenAVault, err := r.PubKeyAt(dammV2TokenAVaultOffset)
	if err != nil {
		return nil, err
	}
	tokenBVault, err := r.PubKeyAt(dammV2TokenBVaultOffset)
	if err != nil {
		return nil, err
	}
	if tokenAMint.IsZero() || tokenBMint.IsZero() || tokenAVault.IsZero() || tokenBVault.IsZero() {
		return nil, &DecodeError{Kind: KindInvalidValue, Pool: pool, Msg: "zero mint or vault address"}
	}

	return &PoolInfo{
		Address:    pool,
		ProgramID:  MeteoraDAMMV2ProgramID,
		Type:       PoolMeteoraDAMMV2,
		BaseMint:   tokenAMint,
		QuoteMint:  tokenBMint,
		BaseVault:  tokenAVault,
		QuoteVault: tokenBVault,
	}, nil
}

func (d *MeteoraDAMMV2Decoder) DecodeReserves(pool solana.PublicKey, data []byte, accounts AccountSet, slot uint64) (*PoolReserve, error) {
	info, err := d.DecodePoolInfo(pool, data)
	if err != nil {
		return nil, err
	}
	return vaultReserves(pool, info, accounts, slot)
}
