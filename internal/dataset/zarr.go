package dataset

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	zarr "github.com/qri-io/zarr-go"

	"github.com/CSSFrancis/spyde-sub000/internal/ndarray"
)

// zarrChunkCacheSize bounds decoded chunks held per source.
const zarrChunkCacheSize = 32

// ZarrSource reads signal slices out of a zarr array stored in the canonical
// frames-by-flattened-pattern layout: a 2D array whose rows are flattened
// navigation positions and whose columns are the flattened signal pattern.
// The logical N-d shapes are carried alongside.
type ZarrSource struct {
	store zarr.Store
	path  zarr.Path
	meta  *zarr.ArrayMeta

	navShape []int
	sigShape []int

	chunks *lru.Cache[[2]int, []float64]
}

var _ SliceSource = (*ZarrSource)(nil)

// OpenZarrSource opens the array at path inside store and validates that its
// on-disk 2D shape matches the logical navigation and signal shapes.
func OpenZarrSource(store zarr.Store, path string, navShape, sigShape []int) (*ZarrSource, error) {
	p, err := zarr.NewPath(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: zarr path %q: %w", path, err)
	}
	rc, err := store.Get(p.Join(string(zarr.MTArray)).String())
	if err != nil {
		return nil, fmt.Errorf("dataset: reading zarr array metadata: %w", err)
	}
	defer rc.Close()
	meta := &zarr.ArrayMeta{}
	if err := json.NewDecoder(rc).Decode(meta); err != nil {
		return nil, fmt.Errorf("dataset: decoding zarr array metadata: %w", err)
	}
	if len(meta.Shape) != 2 {
		return nil, fmt.Errorf("dataset: zarr array must be 2D (frames x pattern), got shape %v", meta.Shape)
	}
	if n := prod(navShape); n != meta.Shape[0] {
		return nil, fmt.Errorf("dataset: navigation shape %v (%d frames) does not match zarr rows %d",
			navShape, n, meta.Shape[0])
	}
	if n := prod(sigShape); n != meta.Shape[1] {
		return nil, fmt.Errorf("dataset: signal shape %v (%d values) does not match zarr columns %d",
			sigShape, n, meta.Shape[1])
	}
	if meta.Order == "F" {
		return nil, fmt.Errorf("dataset: column-major zarr arrays are not supported")
	}
	cache, err := lru.New[[2]int, []float64](zarrChunkCacheSize)
	if err != nil {
		return nil, err
	}
	return &ZarrSource{
		store:    store,
		path:     p,
		meta:     meta,
		navShape: cloneInts(navShape),
		sigShape: cloneInts(sigShape),
		chunks:   cache,
	}, nil
}

// NavShape returns the logical navigation shape.
func (z *ZarrSource) NavShape() []int { return cloneInts(z.navShape) }

// SigShape returns the logical signal shape.
func (z *ZarrSource) SigShape() []int { return cloneInts(z.sigShape) }

// ReadSlice returns the signal-shaped pattern at the given navigation index
// tuple. The tuple must be complete.
func (z *ZarrSource) ReadSlice(navIndex []int) (*ndarray.Array, error) {
	if len(navIndex) != len(z.navShape) {
		return nil, fmt.Errorf("dataset: zarr slice needs %d navigation indices, got %d",
			len(z.navShape), len(navIndex))
	}
	row := 0
	for d, i := range navIndex {
		if i < 0 || i >= z.navShape[d] {
			return nil, fmt.Errorf("dataset: navigation index %d out of range for axis %d (size %d)",
				i, d, z.navShape[d])
		}
		row = row*z.navShape[d] + i
	}

	chunkRows, chunkCols := z.meta.Chunks[0], z.meta.Chunks[1]
	cr := row / chunkRows
	inRow := row % chunkRows
	cols := z.meta.Shape[1]

	out := make([]float64, cols)
	for cc := 0; cc*chunkCols < cols; cc++ {
		vals, err := z.chunk(cr, cc)
		if err != nil {
			return nil, err
		}
		start := cc * chunkCols
		n := chunkCols
		if start+n > cols {
			n = cols - start
		}
		copy(out[start:start+n], vals[inRow*chunkCols:inRow*chunkCols+n])
	}
	return ndarray.FromData(out, z.sigShape...)
}

// chunk returns the decoded full chunk at grid position (cr, cc).
func (z *ZarrSource) chunk(cr, cc int) ([]float64, error) {
	key := [2]int{cr, cc}
	if vals, ok := z.chunks.Get(key); ok {
		return vals, nil
	}
	sep := z.meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	name := fmt.Sprintf("%d%s%d", cr, sep, cc)
	rc, err := z.store.Get(z.path.Join(name).String())
	if err != nil {
		return nil, fmt.Errorf("dataset: reading zarr chunk %s: %w", name, err)
	}
	defer rc.Close()

	r := io.Reader(rc)
	if z.meta.Compressor.ID != "" {
		dec, err := z.meta.Compressor.Decompressor(rc)
		if err != nil {
			return nil, fmt.Errorf("dataset: decompressing zarr chunk %s: %w", name, err)
		}
		defer dec.Close()
		r = dec
	}
	n := z.meta.Chunks[0] * z.meta.Chunks[1]
	vals, err := decodeValues(r, z.meta.Dtype.Dtype, n)
	if err != nil {
		return nil, fmt.Errorf("dataset: decoding zarr chunk %s: %w", name, err)
	}
	z.chunks.Add(key, vals)
	return vals, nil
}

// decodeValues reads n values of the given dtype into float64s.
func decodeValues(r io.Reader, dt zarr.Dtype, n int) ([]float64, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if dt.ByteOrder == zarr.BOBigEndian {
		order = binary.BigEndian
	}
	out := make([]float64, n)
	switch dt.BasicType {
	case zarr.BTFloatingPoint:
		switch dt.ByteSize {
		case 8:
			raw := make([]float64, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			copy(out, raw)
		case 4:
			raw := make([]float32, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("unsupported float byte size %d", dt.ByteSize)
		}
	case zarr.BTInteger:
		switch dt.ByteSize {
		case 1:
			raw := make([]int8, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		case 2:
			raw := make([]int16, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		case 4:
			raw := make([]int32, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		case 8:
			raw := make([]int64, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("unsupported int byte size %d", dt.ByteSize)
		}
	case zarr.BTUnsigned:
		switch dt.ByteSize {
		case 1:
			raw := make([]uint8, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		case 2:
			raw := make([]uint16, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		case 4:
			raw := make([]uint32, n)
			if err := binary.Read(r, order, raw); err != nil {
				return nil, err
			}
			for i, v := range raw {
				out[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("unsupported uint byte size %d", dt.ByteSize)
		}
	default:
		return nil, fmt.Errorf("unsupported zarr dtype %q", dt.BasicType.Human())
	}
	return out, nil
}

// WriteZarrArray writes data (frames x pattern) into store at path as an
// uncompressed little-endian float64 zarr array with the given chunk shape.
// It exists for synthesizing datasets; real acquisitions come from external
// writers.
func WriteZarrArray(store zarr.Store, path string, data *ndarray.Array, chunks [2]int) error {
	if data.NDim() != 2 {
		return fmt.Errorf("dataset: zarr writer needs a 2D frames-x-pattern array, got rank %d", data.NDim())
	}
	if chunks[0] < 1 || chunks[1] < 1 {
		return fmt.Errorf("dataset: invalid chunk shape %v", chunks)
	}
	p, err := zarr.NewPath(path)
	if err != nil {
		return err
	}
	rows, cols := data.Shape[0], data.Shape[1]
	metaJSON := fmt.Sprintf(`{
  "zarr_format": 2,
  "shape": [%d, %d],
  "chunks": [%d, %d],
  "dtype": "<f8",
  "compressor": null,
  "fill_value": 0,
  "order": "C",
  "filters": null
}`, rows, cols, chunks[0], chunks[1])
	if err := store.Put(p.Join(string(zarr.MTArray)).String(), bytes.NewReader([]byte(metaJSON))); err != nil {
		return fmt.Errorf("dataset: writing zarr metadata: %w", err)
	}

	for cr := 0; cr*chunks[0] < rows; cr++ {
		for cc := 0; cc*chunks[1] < cols; cc++ {
			buf := &bytes.Buffer{}
			// Full-size chunks, zero padded past the array edge.
			vals := make([]float64, chunks[0]*chunks[1])
			for r := 0; r < chunks[0]; r++ {
				srcRow := cr*chunks[0] + r
				if srcRow >= rows {
					break
				}
				for c := 0; c < chunks[1]; c++ {
					srcCol := cc*chunks[1] + c
					if srcCol >= cols {
						break
					}
					vals[r*chunks[1]+c] = data.At(srcRow, srcCol)
				}
			}
			if err := binary.Write(buf, binary.LittleEndian, vals); err != nil {
				return err
			}
			name := fmt.Sprintf("%d.%d", cr, cc)
			if err := store.Put(p.Join(name).String(), buf); err != nil {
				return fmt.Errorf("dataset: writing zarr chunk %s: %w", name, err)
			}
		}
	}
	return nil
}

func prod(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
