package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// On-disk artifact names under the index directory.
const (
	vectorsFile = "vectors.bin"
	idMapFile   = "id_map.bin"
	hashesFile  = "hashes.json"
)

var (
	vectorsMagic = [6]byte{'P', 'F', 'V', 'E', 'C', '1'}
	idMapMagic   = [6]byte{'P', 'F', 'I', 'D', 'S', '1'}
)

// artifacts is the loaded on-disk triple. vectors is row-major flat storage,
// len(vectors) == count*dim; ids is positionally aligned with vector rows.
type artifacts struct {
	dim     int
	ids     []int64
	vectors []float32
	hashes  map[int64]string
}

func (a *artifacts) count() int { return len(a.ids) }

// writeArtifacts rewrites the triple atomically: each file is written to a
// temporary sibling, fsynced, then renamed. A crash mid-write leaves the
// previous triple authoritative.
func writeArtifacts(dir string, a *artifacts) error {
	if len(a.vectors) != len(a.ids)*a.dim {
		return fmt.Errorf("artifact shape mismatch: %d floats for %d ids at dim %d",
			len(a.vectors), len(a.ids), a.dim)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, vectorsFile), func(w io.Writer) error {
		if _, err := w.Write(vectorsMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(a.dim)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(a.ids))); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, a.vectors)
	}); err != nil {
		return fmt.Errorf("failed to write vectors: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, idMapFile), func(w io.Writer) error {
		if _, err := w.Write(idMapMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(a.ids))); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, a.ids)
	}); err != nil {
		return fmt.Errorf("failed to write id map: %w", err)
	}

	// Hash keys are stringified permit ids, matching the JSON artifact shape
	// consumed by external tooling.
	strHashes := make(map[string]string, len(a.hashes))
	for id, h := range a.hashes {
		strHashes[strconv.FormatInt(id, 10)] = h
	}
	if err := writeAtomic(filepath.Join(dir, hashesFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		return enc.Encode(strHashes)
	}); err != nil {
		return fmt.Errorf("failed to write hashes: %w", err)
	}

	return nil
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readArtifacts loads the triple. Returns os.ErrNotExist (wrapped) when any
// file is absent, ErrIndexInconsistent when the three disagree.
func readArtifacts(dir string) (*artifacts, error) {
	vecPath := filepath.Join(dir, vectorsFile)
	f, err := os.Open(vecPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [6]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated vectors header", ErrIndexInconsistent)
	}
	if magic != vectorsMagic {
		return nil, fmt.Errorf("%w: bad vectors magic %q", ErrIndexInconsistent, magic[:])
	}
	var dim32 uint32
	var count64 uint64
	if err := binary.Read(f, binary.LittleEndian, &dim32); err != nil {
		return nil, fmt.Errorf("%w: truncated vectors header", ErrIndexInconsistent)
	}
	if err := binary.Read(f, binary.LittleEndian, &count64); err != nil {
		return nil, fmt.Errorf("%w: truncated vectors header", ErrIndexInconsistent)
	}
	dim := int(dim32)
	if dim <= 0 || dim > 1<<16 {
		return nil, fmt.Errorf("%w: implausible dimension %d", ErrIndexInconsistent, dim)
	}
	// The header must account for the body actually on disk, or a corrupt
	// count could demand an absurd allocation before any row is read.
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	const headerSize = 6 + 4 + 8
	maxCount := uint64(max(st.Size()-headerSize, 0)) / (4 * uint64(dim))
	if count64 > maxCount {
		return nil, fmt.Errorf("%w: header claims %d vectors, file holds at most %d", ErrIndexInconsistent, count64, maxCount)
	}
	count := int(count64)
	vectors := make([]float32, count*dim)
	if err := binary.Read(f, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("%w: truncated vectors body", ErrIndexInconsistent)
	}

	ids, err := readIDMap(filepath.Join(dir, idMapFile))
	if err != nil {
		return nil, err
	}
	if len(ids) != count {
		return nil, fmt.Errorf("%w: %d vectors but %d ids", ErrIndexInconsistent, count, len(ids))
	}

	hashes, err := readHashes(filepath.Join(dir, hashesFile))
	if err != nil {
		return nil, err
	}
	if len(hashes) != count {
		return nil, fmt.Errorf("%w: %d vectors but %d hashes", ErrIndexInconsistent, count, len(hashes))
	}
	for _, id := range ids {
		if _, ok := hashes[id]; !ok {
			return nil, fmt.Errorf("%w: id %d has no hash", ErrIndexInconsistent, id)
		}
	}

	return &artifacts{dim: dim, ids: ids, vectors: vectors, hashes: hashes}, nil
}

func readIDMap(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [6]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated id map", ErrIndexInconsistent)
	}
	if magic != idMapMagic {
		return nil, fmt.Errorf("%w: bad id map magic %q", ErrIndexInconsistent, magic[:])
	}
	var count64 uint64
	if err := binary.Read(f, binary.LittleEndian, &count64); err != nil {
		return nil, fmt.Errorf("%w: truncated id map", ErrIndexInconsistent)
	}
	ids := make([]int64, count64)
	if err := binary.Read(f, binary.LittleEndian, ids); err != nil {
		return nil, fmt.Errorf("%w: truncated id map body", ErrIndexInconsistent)
	}
	return ids, nil
}

func readHashes(path string) (map[int64]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var strHashes map[string]string
	if err := json.Unmarshal(data, &strHashes); err != nil {
		return nil, fmt.Errorf("%w: malformed hashes file: %v", ErrIndexInconsistent, err)
	}
	hashes := make(map[int64]string, len(strHashes))
	for k, v := range strHashes {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric hash key %q", ErrIndexInconsistent, k)
		}
		hashes[id] = v
	}
	return hashes, nil
}

// artifactsExist reports whether all three files are present.
func artifactsExist(dir string) bool {
	for _, name := range []string{vectorsFile, idMapFile, hashesFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// isNotExist folds the artifact-absent cases.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
