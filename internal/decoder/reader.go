// internal/decoder/reader.go
package decoder

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// accountReader is a bounds-checked cursor over untrusted account bytes.
// Every read rejects short buffers with a structured DecodeError instead of
// panicking; pool data on mainnet is adversarial and routinely malformed.
type accountReader struct {
	pool solana.PublicKey
	data []byte
	off  int
}

func newAccountReader(pool solana.PublicKey, data []byte) *accountReader {
	return &accountReader{pool: pool, data: data}
}

func (r *accountReader) need(n int) error {
	if r.off+n > len(r.data) {
		return errInvalidLength(r.pool, len(r.data), r.off+n)
	}
	return nil
}

func (r *accountReader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

func (r *accountReader) Seek(off int) error {
	if off > len(r.data) {
		return errInvalidLength(r.pool, len(r.data), off)
	}
	r.off = off
	return nil
}

func (r *accountReader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *accountReader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *accountReader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *accountReader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *accountReader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// U128 returns the little-endian 16-byte value as a big.Int; sqrtPrice
// fields in CLMM-style pools overflow uint64.
func (r *accountReader) U128() (*big.Int, error) {
	if err := r.need(16); err != nil {
		return nil, err
	}
	buf := make([]byte, 16)
	// big.Int wants big-endian
	for i := 0; i < 16; i++ {
		buf[i] = r.data[r.off+15-i]
	}
	r.off += 16
	return new(big.Int).SetBytes(buf), nil
}

func (r *accountReader) PubKey() (solana.PublicKey, error) {
	if err := r.need(32); err != nil {
		return solana.PublicKey{}, err
	}
	var key solana.PublicKey
	copy(key[:], r.data[r.off:r.off+32])
	r.off += 32
	return key, nil
}

func (r *accountReader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

// Absolute-offset variants for layouts addressed by fixed offsets.

func (r *accountReader) U64At(off int) (uint64, error) {
	if off+8 > len(r.data) {
		return 0, errInvalidLength(r.pool, len(r.data), off+8)
	}
	return binary.LittleEndian.Uint64(r.data[off:]), nil
}

func (r *accountReader) U16At(off int) (uint16, error) {
	if off+2 > len(r.data) {
		return 0, errInvalidLength(r.pool, len(r.data), off+2)
	}
	return binary.LittleEndian.Uint16(r.data[off:]), nil
}

func (r *accountReader) U8At(off int) (uint8, error) {
	if off+1 > len(r.data) {
		return 0, errInvalidLength(r.pool, len(r.data), off+1)
	}
	return r.data[off], nil
}

func (r *accountReader) I32At(off int) (int32, error) {
	if off+4 > len(r.data) {
		return 0, errInvalidLength(r.pool, len(r.data), off+4)
	}
	return int32(binary.LittleEndian.Uint32(r.data[off:])), nil
}

func (r *accountReader) U128At(off int) (*big.Int, error) {
	if err := r.Seek(off); err != nil {
		return nil, err
	}
	return r.U128()
}

func (r *accountReader) PubKeyAt(off int) (solana.PublicKey, error) {
	if off+32 > len(r.data) {
		return solana.PublicKey{}, errInvalidLength(r.pool, len(r.data), off+32)
	}
	var key solana.PublicKey
	copy(key[:], r.data[off:off+32])
	return key, nil
}

const (
	// SPL token account: amount is a u64 at offset 64.
	tokenAccountAmountOffset = 64
	tokenAccountMinLen       = 72

	// SPL mint account: decimals is a u8 at offset 44.
	mintDecimalsOffset = 44
	mintAccountMinLen  = 82
)

// splTokenAmount reads the raw balance out of an SPL token account.
func splTokenAmount(pool, account solana.PublicKey, data []byte) (uint64, error) {
	if len(data) < tokenAccountMinLen {
		return 0, &DecodeError{
			Kind:    KindInvalidValue,
			Pool:    pool,
			Account: account,
			Msg:     "token account too short",
		}
	}
	return binary.LittleEndian.Uint64(data[tokenAccountAmountOffset:]), nil
}

// splMintDecimals reads the decimals field out of an SPL mint account.
func splMintDecimals(pool, mint solana.PublicKey, data []byte) (uint8, error) {
	if len(data) < mintAccountMinLen {
		return 0, &DecodeError{
			Kind:    KindInvalidValue,
			Pool:    pool,
			Account: mint,
			Msg:     "mint account too short",
		}
	}
	return data[mintDecimalsOffset], nil
}
