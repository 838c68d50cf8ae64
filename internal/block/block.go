// Package block packs tensors into the 32-element scaled 4-bit forms
// a weights file would hold: mxfp4 blocks under one shared exponent
// byte and nf4 blocks under a 16-bit absmax. Nibbles pack low half
// first. All element arithmetic runs through the emulated reference
// path.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/convert"
	"github.com/23skdu/longbow-bodkin/internal/format"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/unit"
)

const (
	BlockSize = 32

	// 1 shared-exponent byte + 32 nibbles.
	MXFP4BlockBytes = 17
	// FP16 absmax + 32 nibbles.
	NF4BlockBytes = 18
)

var (
	ErrBlockLength = errors.New("block: element count not a multiple of block size")
	ErrDataLength  = errors.New("block: packed length does not match element count")
)

// blockExp picks the shared exponent byte for one mxfp4 block. The
// element codes top out at 3.0 before the saturation step, so the
// scale is chosen to land the block absmax in (1.5, 3]; the absmax
// element then always encodes without clamping. A zero block keeps
// the neutral scale.
func blockExp(absmax float32) uint8 {
	bits := format.FromFloat32(absmax).Bits
	ef := int32((bits >> format.RefExpShift) & format.RefExpMask)
	if ef == 0 {
		return 0
	}
	shift := ef - format.RefBias
	if (bits & format.RefManMask) <= (1 << (format.RefExpShift - 1)) {
		shift--
	}
	b := int32(format.RefBias) + shift
	if b < 0 {
		b = 0
	} else if b > 254 {
		b = 254
	}
	return uint8(b)
}

func scaleFor(expByte uint8) format.Value {
	return format.Compose(format.FP32, 0, uint32(expByte), 0)
}

// QuantizeMXFP4 packs src into 17-byte blocks of 32 fp4 codes under a
// shared power-of-two scale derived from each block's absmax.
func QuantizeMXFP4(src []float32) ([]byte, error) {
	if len(src)%BlockSize != 0 {
		logger.Log.Debug("mxfp4 quantize rejected", "elements", len(src))
		return nil, fmt.Errorf("%w: %d", ErrBlockLength, len(src))
	}
	nBlocks := len(src) / BlockSize
	out := make([]byte, nBlocks*MXFP4BlockBytes)
	for b := 0; b < nBlocks; b++ {
		blk := src[b*BlockSize : (b+1)*BlockSize]
		var absmax float32
		for _, v := range blk {
			if a := abs32(v); a > absmax {
				absmax = a
			}
		}
		expByte := uint32(format.RefBias)
		if absmax != 0 {
			expByte = uint32(blockExp(absmax))
		}
		dst := out[b*MXFP4BlockBytes:]
		dst[0] = byte(expByte)
		// Dividing by a power-of-two scale is an exact multiply by
		// the mirrored exponent.
		inv := format.Compose(format.FP32, 0, 2*format.RefBias-expByte, 0)
		for i, v := range blk {
			scaled, _ := unit.Mul32(format.FromFloat32(v), inv)
			code, _ := convert.NarrowFP4(scaled)
			dst[1+i/2] |= byte(code.Bits&0xf) << (4 * uint(i%2))
		}
	}
	metrics.RecordBlockElements("mxfp4", "quantize", len(src))
	return out, nil
}

// DequantizeMXFP4 expands packed blocks back to n float32 values.
func DequantizeMXFP4(data []byte, n int) ([]float32, error) {
	if n%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBlockLength, n)
	}
	if len(data) != n/BlockSize*MXFP4BlockBytes {
		logger.Log.Debug("mxfp4 dequantize rejected", "bytes", len(data), "elements", n)
		return nil, fmt.Errorf("%w: %d bytes for %d elements", ErrDataLength, len(data), n)
	}
	out := make([]float32, n)
	for b := 0; b < n/BlockSize; b++ {
		blk := data[b*MXFP4BlockBytes:]
		scale := scaleFor(blk[0])
		for i := 0; i < BlockSize; i++ {
			nib := uint32(blk[1+i/2]>>(4*uint(i%2))) & 0xf
			w := convert.Widen(format.New(format.FP4, nib))
			v, _ := unit.Mul32(w, scale)
			out[b*BlockSize+i] = v.Float32()
		}
	}
	metrics.RecordBlockElements("mxfp4", "dequantize", n)
	return out, nil
}

// QuantizeNF4 packs src into 18-byte blocks: the block absmax stored
// as truncated fp16, then 32 table indices. Index selection uses the
// stored absmax, not the exact one, so decode sees the same scale.
func QuantizeNF4(src []float32) ([]byte, error) {
	if len(src)%BlockSize != 0 {
		logger.Log.Debug("nf4 quantize rejected", "elements", len(src))
		return nil, fmt.Errorf("%w: %d", ErrBlockLength, len(src))
	}
	nBlocks := len(src) / BlockSize
	out := make([]byte, nBlocks*NF4BlockBytes)
	for b := 0; b < nBlocks; b++ {
		blk := src[b*BlockSize : (b+1)*BlockSize]
		var absmax float32
		for _, v := range blk {
			if a := abs32(v); a > absmax {
				absmax = a
			}
		}
		stored, _ := convert.Narrow(format.FromFloat32(absmax), format.FP16)
		eff := convert.Widen(stored)
		dst := out[b*NF4BlockBytes:]
		binary.LittleEndian.PutUint16(dst[0:2], uint16(stored.Bits))
		for i, v := range blk {
			q, _ := convert.QuantizeNF4(format.FromFloat32(v), eff)
			dst[2+i/2] |= byte(q.Bits&0xf) << (4 * uint(i%2))
		}
	}
	metrics.RecordBlockElements("nf4", "quantize", len(src))
	return out, nil
}

// DequantizeNF4 expands packed nf4 blocks back to n float32 values.
func DequantizeNF4(data []byte, n int) ([]float32, error) {
	if n%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBlockLength, n)
	}
	if len(data) != n/BlockSize*NF4BlockBytes {
		logger.Log.Debug("nf4 dequantize rejected", "bytes", len(data), "elements", n)
		return nil, fmt.Errorf("%w: %d bytes for %d elements", ErrDataLength, len(data), n)
	}
	out := make([]float32, n)
	for b := 0; b < n/BlockSize; b++ {
		blk := data[b*NF4BlockBytes:]
		absmax := convert.Widen(format.New(format.FP16, uint32(binary.LittleEndian.Uint16(blk[0:2]))))
		for i := 0; i < BlockSize; i++ {
			nib := uint8(blk[2+i/2]>>(4*uint(i%2))) & 0xf
			v, _ := unit.Mul32(format.NF4Value(nib), absmax)
			out[b*BlockSize+i] = v.Float32()
		}
	}
	metrics.RecordBlockElements("nf4", "dequantize", n)
	return out, nil
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
