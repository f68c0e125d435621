// Package fec implements the Reed-Solomon forward error correction used to
// recover a video frame's RTP shards when some of them are lost in transit.
// The arithmetic is GF(2^8) with the same primitive polynomial and Cauchy
// parity construction as moonlight-common-c's rs.c; the field tables and
// matrix inversion below are ported from there line for line, since the
// wire format (and the server's own encoder) fixes this math exactly and
// there is no domain freedom to rewrite the arithmetic itself.
package fec

import (
	"errors"
	"sync"
)

const (
	// galoisBits is the Galois field's exponent: GF(2^galoisBits).
	galoisBits = 8
	// primitivePoly is the primitive polynomial for GF(2^8), expressed as
	// a bit string (x^8 + x^4 + x^3 + x^2 + 1).
	primitivePoly = "101110001"
	// galoisSize is 2^galoisBits - 1, the field's nonzero element count.
	galoisSize = (1 << galoisBits) - 1
	// MaxShards bounds data+parity shards a single codec can address; the
	// field's log/antilog tables only cover GF(2^8).
	MaxShards = 255
)

var (
	ErrTooManyShards    = errors.New("fec: data+parity shard count exceeds field size")
	ErrNotEnoughShards  = errors.New("fec: too few shards present to reconstruct")
	ErrInvalidShardSize = errors.New("fec: shard count or length mismatch")
	errSingularMatrix   = errors.New("fec: encode/decode matrix is singular")
)

// element is one Galois field member.
type element = uint8

var (
	expTable  [2 * galoisSize]element
	logTable  [galoisSize + 1]int
	invTable  [galoisSize + 1]element
	mulTable  [(galoisSize + 1) * (galoisSize + 1)]element
	initOnce  sync.Once
)

// Codec performs Reed-Solomon encode/decode over a fixed data/parity shard
// split, sized once up front for one video frame's worst-case shard count.
type Codec struct {
	dataShards   int
	parityShards int
	totalShards  int
	matrix       []element // totalShards x dataShards encode matrix
	parity       []element // the matrix's parity-row submatrix
}

// Init builds the field's log/antilog and multiplication tables. Safe to
// call repeatedly and from multiple goroutines; the tables are built once.
// A streaming client calls this during startup, before the first Codec is
// built, since New needs the tables already populated.
func Init() {
	initOnce.Do(func() {
		buildLogTables()
		buildMulTable()
	})
}

// New builds a Codec for dataShards data shards and parityShards parity
// shards, deriving the Cauchy-matrix parity rows used by Encode and the
// matching inversion path used by Reconstruct.
func New(dataShards, parityShards int) (*Codec, error) {
	Init()

	total := dataShards + parityShards
	if total > MaxShards || dataShards <= 0 || parityShards <= 0 {
		return nil, ErrTooManyShards
	}

	c := &Codec{
		dataShards:   dataShards,
		parityShards: parityShards,
		totalShards:  total,
	}

	vandermonde := make([]element, dataShards*total)
	for row := 0; row < total; row++ {
		for col := 0; col < dataShards; col++ {
			if row == col {
				vandermonde[row*dataShards+col] = 1
			}
		}
	}

	identityBlock := extractBlock(vandermonde, 0, 0, dataShards, dataShards, total, dataShards)
	if err := invert(identityBlock, dataShards); err != nil {
		return nil, err
	}
	c.matrix = multiply(vandermonde, total, dataShards, identityBlock, dataShards, dataShards)

	for j := 0; j < parityShards; j++ {
		for i := 0; i < dataShards; i++ {
			c.matrix[(dataShards+j)*dataShards+i] = invTable[(parityShards+i)^j]
		}
	}
	c.parity = extractBlock(c.matrix, dataShards, 0, total, dataShards, total, dataShards)

	return c, nil
}

// DataShards, ParityShards and TotalShards report the split this Codec was
// built for.
func (c *Codec) DataShards() int   { return c.dataShards }
func (c *Codec) ParityShards() int { return c.parityShards }
func (c *Codec) TotalShards() int  { return c.totalShards }

// Encode fills shards[dataShards:] with parity computed from
// shards[:dataShards]. Every shard (data and parity) must already be
// allocated to the same length.
func (c *Codec) Encode(shards [][]byte) error {
	if len(shards) != c.totalShards {
		return ErrInvalidShardSize
	}
	shardLen := len(shards[0])
	for _, s := range shards {
		if len(s) != shardLen {
			return ErrInvalidShardSize
		}
	}

	applyMatrixRows(c.parity, shards[:c.dataShards], shards[c.dataShards:], c.dataShards, c.parityShards, shardLen)
	return nil
}

// Reconstruct fills in the missing data shards (those with present[i] ==
// false, for i < dataShards) from whatever data and parity shards are
// present, allocating each recovered shard if its slot is nil.
func (c *Codec) Reconstruct(shards [][]byte, present []bool) error {
	if len(shards) != c.totalShards || len(present) != c.totalShards {
		return ErrInvalidShardSize
	}

	shardLen := 0
	for i, s := range shards {
		if !present[i] {
			continue
		}
		if shardLen == 0 {
			shardLen = len(s)
		} else if len(s) != shardLen {
			return ErrInvalidShardSize
		}
	}
	if shardLen == 0 {
		return ErrNotEnoughShards
	}

	var missingData []int
	for i := 0; i < c.dataShards; i++ {
		if !present[i] {
			missingData = append(missingData, i)
		}
	}
	if len(missingData) == 0 {
		return nil
	}

	var parityIdx []int
	var parityShards [][]byte
	for i := c.dataShards; i < c.totalShards && len(parityIdx) < len(missingData); i++ {
		if present[i] {
			parityIdx = append(parityIdx, i-c.dataShards)
			parityShards = append(parityShards, shards[i])
		}
	}
	if len(parityIdx) < len(missingData) {
		return ErrNotEnoughShards
	}

	decodeMatrix := make([]element, c.dataShards*c.dataShards)
	subShards := make([][]byte, c.dataShards)
	row := 0
	nextMissing := 0
	for i := 0; i < c.dataShards; i++ {
		if nextMissing < len(missingData) && i == missingData[nextMissing] {
			nextMissing++
			continue
		}
		copy(decodeMatrix[row*c.dataShards:(row+1)*c.dataShards], c.matrix[i*c.dataShards:(i+1)*c.dataShards])
		subShards[row] = shards[i]
		row++
	}
	for i := 0; i < len(missingData) && row < c.dataShards; i++ {
		srcRow := c.dataShards + parityIdx[i]
		copy(decodeMatrix[row*c.dataShards:(row+1)*c.dataShards], c.matrix[srcRow*c.dataShards:(srcRow+1)*c.dataShards])
		subShards[row] = parityShards[i]
		row++
	}

	if err := invert(decodeMatrix, c.dataShards); err != nil {
		return err
	}

	outputs := make([][]byte, len(missingData))
	for i, idx := range missingData {
		if shards[idx] == nil {
			shards[idx] = make([]byte, shardLen)
		}
		outputs[i] = shards[idx]
		copy(decodeMatrix[i*c.dataShards:], decodeMatrix[idx*c.dataShards:(idx+1)*c.dataShards])
	}

	applyMatrixRows(decodeMatrix, subShards, outputs, c.dataShards, len(missingData), shardLen)
	return nil
}

// --- GF(2^8) arithmetic, ported from moonlight-common-c's rs.c ---

func reduceMod(x int) element {
	for x >= galoisSize {
		x -= galoisSize
		x = (x >> galoisBits) + (x & galoisSize)
	}
	return element(x)
}

func buildLogTables() {
	var mask element = 1
	expTable[galoisBits] = 0

	for i := 0; i < galoisBits; i++ {
		expTable[i] = mask
		logTable[expTable[i]] = i
		if primitivePoly[i] == '1' {
			expTable[galoisBits] ^= mask
		}
		mask <<= 1
	}

	logTable[expTable[galoisBits]] = galoisBits
	mask = 1 << (galoisBits - 1)

	for i := galoisBits + 1; i < galoisSize; i++ {
		if expTable[i-1] >= mask {
			expTable[i] = expTable[galoisBits] ^ ((expTable[i-1] ^ mask) << 1)
		} else {
			expTable[i] = expTable[i-1] << 1
		}
		logTable[expTable[i]] = i
	}
	logTable[0] = galoisSize

	for i := 0; i < galoisSize; i++ {
		expTable[i+galoisSize] = expTable[i]
	}

	invTable[0] = 0
	invTable[1] = 1
	for i := 2; i <= galoisSize; i++ {
		invTable[i] = expTable[galoisSize-logTable[i]]
	}
}

func buildMulTable() {
	for i := 0; i < galoisSize+1; i++ {
		for j := 0; j < galoisSize+1; j++ {
			mulTable[(i<<8)+j] = expTable[reduceMod(logTable[i]+logTable[j])]
		}
	}
	for j := 0; j < galoisSize+1; j++ {
		mulTable[j] = 0
		mulTable[j<<8] = 0
	}
}

func gmul(x, y element) element {
	return mulTable[(int(x)<<8)+int(y)]
}

// xorScaled XORs src scaled by c into dst in place; a no-op when c == 0.
func xorScaled(dst, src []element, c element) {
	if c == 0 {
		return
	}
	row := mulTable[int(c)<<8:]
	for i := range dst {
		dst[i] ^= row[src[i]]
	}
}

// scale writes src scaled by c into dst.
func scale(dst, src []element, c element) {
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	row := mulTable[int(c)<<8:]
	for i := range dst {
		dst[i] = row[src[i]]
	}
}

// invert performs Gauss-Jordan elimination over GF(2^8) on the k x k
// matrix src (row-major), in place.
func invert(src []element, k int) error {
	colDone := make([]int, k)
	pivotRowAt := make([]int, k)
	pivotColAt := make([]int, k)
	identityRow := make([]element, k)

	for col := 0; col < k; col++ {
		irow, icol := -1, -1

		if colDone[col] != 1 && src[col*k+col] != 0 {
			irow, icol = col, col
		} else {
			for row := 0; row < k && icol == -1; row++ {
				if colDone[row] == 1 {
					continue
				}
				for c := 0; c < k; c++ {
					if colDone[c] == 0 && src[row*k+c] != 0 {
						irow, icol = row, c
						break
					}
				}
			}
		}
		if icol == -1 {
			return errSingularMatrix
		}
		colDone[icol]++

		if irow != icol {
			for c := 0; c < k; c++ {
				src[irow*k+c], src[icol*k+c] = src[icol*k+c], src[irow*k+c]
			}
		}
		pivotRowAt[col] = irow
		pivotColAt[col] = icol

		pivotRow := src[icol*k : (icol+1)*k]
		pivotVal := pivotRow[icol]
		if pivotVal == 0 {
			return errSingularMatrix
		}
		if pivotVal != 1 {
			inv := invTable[pivotVal]
			pivotRow[icol] = 1
			for c := 0; c < k; c++ {
				pivotRow[c] = gmul(inv, pivotRow[c])
			}
		}

		identityRow[icol] = 1
		rowIsIdentity := true
		for c := 0; c < k; c++ {
			if pivotRow[c] != identityRow[c] {
				rowIsIdentity = false
				break
			}
		}
		if !rowIsIdentity {
			for r := 0; r < k; r++ {
				if r == icol {
					continue
				}
				row := src[r*k : (r+1)*k]
				scaleFactor := row[icol]
				row[icol] = 0
				xorScaled(row, pivotRow, scaleFactor)
			}
		}
		identityRow[icol] = 0
	}

	for col := k - 1; col >= 0; col-- {
		if pivotRowAt[col] == pivotColAt[col] {
			continue
		}
		for row := 0; row < k; row++ {
			src[row*k+pivotRowAt[col]], src[row*k+pivotColAt[col]] = src[row*k+pivotColAt[col]], src[row*k+pivotRowAt[col]]
		}
	}

	return nil
}

// extractBlock copies the [rowMin,rowMax) x [colMin,colMax) submatrix out
// of matrix, a row-major matrix whose rows are colStride elements wide.
// The unused nrows parameter mirrors the original call signature (the
// source always passes it, but a submatrix's row count is implied by
// rowMax-rowMin, not by the full matrix's row count).
func extractBlock(matrix []element, rowMin, colMin, rowMax, colMax, _ /* nrows */, colStride int) []element {
	out := make([]element, (rowMax-rowMin)*(colMax-colMin))
	n := 0
	for i := rowMin; i < rowMax; i++ {
		for j := colMin; j < colMax; j++ {
			out[n] = matrix[i*colStride+j]
			n++
		}
	}
	return out
}

func multiply(a []element, aRows, aCols int, b []element, bRows, bCols int) []element {
	if aCols != bRows {
		return nil
	}
	out := make([]element, aRows*bCols)
	for r := 0; r < aRows; r++ {
		for c := 0; c < bCols; c++ {
			var v element
			for i := 0; i < aCols; i++ {
				v ^= gmul(a[r*aCols+i], b[i*bCols+c])
			}
			out[r*bCols+c] = v
		}
	}
	return out
}

// applyMatrixRows computes outputs = matrixRows * inputs over GF(2^8),
// shared by Encode (data -> parity) and Reconstruct (survivors -> missing
// data shards).
func applyMatrixRows(matrixRows []element, inputs, outputs [][]byte, dataShards, outputCount, shardLen int) {
	_ = shardLen
	for col := 0; col < dataShards; col++ {
		in := inputs[col]
		for row := 0; row < outputCount; row++ {
			if col == 0 {
				scale(outputs[row], in, matrixRows[row*dataShards+col])
			} else {
				xorScaled(outputs[row], in, matrixRows[row*dataShards+col])
			}
		}
	}
}
