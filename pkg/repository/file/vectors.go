package file

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// memory_vectors.bin layout, little endian:
//
//	magic "TVEC" | uint32 dimension | uint32 count | count*dimension float32
var vectorsMagic = [4]byte{'T', 'V', 'E', 'C'}

func encodeVectors(dimension int, rows [][]float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(12 + 4*dimension*len(rows))

	buf.Write(vectorsMagic[:])
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(dimension))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(rows)))
	buf.Write(header[:])

	var cell [4]byte
	for i, row := range rows {
		if len(row) != dimension {
			return nil, goerr.New("vector row has wrong dimension",
				goerr.V("row", i), goerr.V("expected", dimension), goerr.V("actual", len(row)))
		}
		for _, x := range row {
			binary.LittleEndian.PutUint32(cell[:], math.Float32bits(x))
			buf.Write(cell[:])
		}
	}
	return buf.Bytes(), nil
}

const vectorsHeaderSize = 12

// decodeVectors reads a vectors file of size bytes. The header is checked
// against size before any row is allocated.
func decodeVectors(r io.Reader, size int64) (int, [][]float32, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return 0, nil, goerr.Wrap(ErrCorruption, "failed to read vectors header", goerr.V("cause", err.Error()))
	}
	if magic != vectorsMagic {
		return 0, nil, goerr.Wrap(ErrCorruption, "vectors file has unknown magic", goerr.V("magic", string(magic[:])))
	}

	var header [8]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return 0, nil, goerr.Wrap(ErrCorruption, "failed to read vectors header", goerr.V("cause", err.Error()))
	}
	dimension := int(binary.LittleEndian.Uint32(header[0:4]))
	count := int(binary.LittleEndian.Uint32(header[4:8]))

	if dimension == 0 {
		return 0, nil, goerr.Wrap(ErrCorruption, "vectors file declares zero dimension", goerr.V(VectorsKey, count))
	}
	body := size - vectorsHeaderSize
	if body < 0 || body%4 != 0 || body/4%int64(dimension) != 0 || body/4/int64(dimension) != int64(count) {
		return 0, nil, goerr.Wrap(ErrCorruption, "vectors file size does not match its header",
			goerr.V(DimensionKey, dimension), goerr.V(VectorsKey, count), goerr.V("size", size))
	}

	rows := make([][]float32, count)
	var cell [4]byte
	for i := range rows {
		row := make([]float32, dimension)
		for j := range row {
			if _, err := io.ReadFull(br, cell[:]); err != nil {
				return 0, nil, goerr.Wrap(ErrCorruption, "vectors file is truncated",
					goerr.V("row", i), goerr.V(VectorsKey, count))
			}
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(cell[:]))
		}
		rows[i] = row
	}

	if _, err := br.ReadByte(); err != io.EOF {
		return 0, nil, goerr.Wrap(ErrCorruption, "vectors file has trailing data", goerr.V(VectorsKey, count))
	}

	return dimension, rows, nil
}
