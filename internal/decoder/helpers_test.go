package decoder

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// pk builds a deterministic test pubkey from a single byte.
func pk(b byte) solana.PublicKey {
	var key solana.PublicKey
	for i := range key {
		key[i] = b
	}
	return key
}

func putPubKey(data []byte, off int, key solana.PublicKey) {
	copy(data[off:off+32], key[:])
}

func putU64(data []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(data[off:], v)
}

func putU16(data []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(data[off:], v)
}

// tokenAccount builds an SPL token account holding amount raw units.
func tokenAccount(amount uint64) *Account {
	data := make([]byte, 165)
	putU64(data, tokenAccountAmountOffset, amount)
	return &Account{Data: data}
}

// mintAccount builds an SPL mint account with the given decimals.
func mintAccount(decimals uint8) *Account {
	data := make([]byte, 82)
	data[mintDecimalsOffset] = decimals
	return &Account{Data: data}
}

type rayV4Fixture struct {
	baseMint, quoteMint   solana.PublicKey
	baseVault, quoteVault solana.PublicKey
	baseDec, quoteDec     uint64
	feeNum, feeDenom      uint64
}

func (f rayV4Fixture) build() []byte {
	data := make([]byte, rayV4MinLen)
	putU64(data, rayV4StatusOffset, 6)
	putU64(data, rayV4BaseDecOffset, f.baseDec)
	putU64(data, rayV4QuoteDecOffset, f.quoteDec)
	putU64(data, rayV4SwapFeeNumOff, f.feeNum)
	putU64(data, rayV4SwapFeeDenomOff, f.feeDenom)
	putPubKey(data, rayV4BaseVaultOffset, f.baseVault)
	putPubKey(data, rayV4QuoteVaultOff, f.quoteVault)
	putPubKey(data, rayV4BaseMintOffset, f.baseMint)
	putPubKey(data, rayV4QuoteMintOffset, f.quoteMint)
	putPubKey(data, rayV4LPMintOffset, pk(0xAA))
	putU64(data, rayV4LPReserveOffset, 1_000_000)
	return data
}

type cpmmFixture struct {
	mint0, mint1       solana.PublicKey
	vault0, vault1     solana.PublicKey
	mint0Dec, mint1Dec uint8
}

func (f cpmmFixture) build() []byte {
	data := make([]byte, cpmmMinLen)
	putPubKey(data, cpmmToken0VaultOffset, f.vault0)
	putPubKey(data, cpmmToken1VaultOffset, f.vault1)
	putPubKey(data, cpmmLPMintOffset, pk(0xAB))
	putPubKey(data, cpmmToken0MintOffset, f.mint0)
	putPubKey(data, cpmmToken1MintOffset, f.mint1)
	data[cpmmStatusOffset] = 1
	data[cpmmMint0DecOffset] = f.mint0Dec
	data[cpmmMint1DecOffset] = f.mint1Dec
	return data
}

type clmmFixture struct {
	mint0, mint1   solana.PublicKey
	vault0, vault1 solana.PublicKey
	dec0, dec1     uint8
	sqrtPriceX64   [16]byte // little-endian u128
}

func (f clmmFixture) build() []byte {
	data := make([]byte, clmmMinLen)
	putPubKey(data, clmmTokenMint0Offset, f.mint0)
	putPubKey(data, clmmTokenMint1Offset, f.mint1)
	putPubKey(data, clmmTokenVault0Offset, f.vault0)
	putPubKey(data, clmmTokenVault1Offset, f.vault1)
	data[clmmMint0DecOffset] = f.dec0
	data[clmmMint1DecOffset] = f.dec1
	copy(data[clmmSqrtPriceOffset:], f.sqrtPriceX64[:])
	return data
}

type whirlpoolFixture struct {
	mintA, mintB   solana.PublicKey
	vaultA, vaultB solana.PublicKey
	sqrtPriceX64   [16]byte // little-endian u128
	feeRate        uint16
}

func (f whirlpoolFixture) build() []byte {
	data := make([]byte, whirlpoolMinLen)
	putU16(data, whirlpoolFeeRateOffset, f.feeRate)
	copy(data[whirlpoolSqrtPriceOffset:], f.sqrtPriceX64[:])
	putPubKey(data, whirlpoolMintAOffset, f.mintA)
	putPubKey(data, whirlpoolVaultAOffset, f.vaultA)
	putPubKey(data, whirlpoolMintBOffset, f.mintB)
	putPubKey(data, whirlpoolVaultBOffset, f.vaultB)
	return data
}

type dlmmFixture struct {
	mintX, mintY       solana.PublicKey
	reserveX, reserveY solana.PublicKey
	activeID           int32
	binStep            uint16
}

func (f dlmmFixture) build() []byte {
	data := make([]byte, dlmmMinLen)
	binary.LittleEndian.PutUint32(data[dlmmActiveIDOffset:], uint32(f.activeID))
	putU16(data, dlmmBinStepOffset, f.binStep)
	data[dlmmStatusOffset] = 0
	putPubKey(data, dlmmTokenXMintOff, f.mintX)
	putPubKey(data, dlmmTokenYMintOff, f.mintY)
	putPubKey(data, dlmmReserveXOffset, f.reserveX)
	putPubKey(data, dlmmReserveYOffset, f.reserveY)
	return data
}

type dammV2Fixture struct {
	mintA, mintB   solana.PublicKey
	vaultA, vaultB solana.PublicKey
}

func (f dammV2Fixture) build() []byte {
	data := make([]byte, dammV2MinLen)
	putPubKey(data, dammV2TokenAMintOffset, f.mintA)
	putPubKey(data, dammV2TokenBMintOffset, f.mintB)
	putPubKey(data, dammV2TokenAVaultOffset, f.vaultA)
	putPubKey(data, dammV2TokenBVaultOffset, f.vaultB)
	return data
}

type pumpCurveFixture struct {
	virtualTokenReserves uint64
	virtualSolReserves   uint64
	complete             bool
}

func (f pumpCurveFixture) build() []byte {
	data := make([]byte, pumpCurveMinLen)
	copy(data, pumpBondingCurveDiscriminator)
	putU64(data, 8, f.virtualTokenReserves)
	putU64(data, 16, f.virtualSolReserves)
	putU64(data, 24, f.virtualTokenReserves) // real token reserves
	putU64(data, 32, f.virtualSolReserves)   // real sol reserves
	putU64(data, 40, 1_000_000_000_000_000)  // total supply
	if f.complete {
		data[48] = 1
	}
	return data
}

type pumpSwapFixture struct {
	baseMint, quoteMint   solana.PublicKey
	baseVault, quoteVault solana.PublicKey
	lpSupply              uint64
}

func (f pumpSwapFixture) build() []byte {
	data := make([]byte, pumpSwapMinLen)
	copy(data, pumpSwapPoolDiscriminator)
	putPubKey(data, 8+1+2, pk(0xCC)) // creator
	putPubKey(data, pumpSwapBaseMintOffset, f.baseMint)
	putPubKey(data, pumpSwapQuoteMintOffset, f.quoteMint)
	putPubKey(data, pumpSwapLPMintOffset, pk(0xAD))
	putPubKey(data, pumpSwapBaseVaultOffset, f.baseVault)
	putPubKey(data, pumpSwapQuoteVaultOffset, f.quoteVault)
	putU64(data, pumpSwapLPSupplyOffset, f.lpSupply)
	return data
}

type moonitFixture struct {
	mint        solana.PublicKey
	totalSupply uint64
	curveAmount uint64
	decimals    uint8
}

func (f moonitFixture) build() []byte {
	data := make([]byte, 100)
	putU64(data, moonitTotalSupplyOffset, f.totalSupply)
	putU64(data, moonitCurveAmountOffset, f.curveAmount)
	putPubKey(data, moonitMintOffset, f.mint)
	data[moonitDecimalsOffset] = f.decimals
	return data
}
