package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotMagic identifies a docbase snapshot file.
const SnapshotMagic = "DOCSNAP1"

// IndexDef describes a single secondary index so a restored collection can
// rebuild it without re-deriving it from documents (group indexes carry
// their pattern in Field, same as the live index manager does).
type IndexDef struct {
	Name   string `json:"name"`
	Field  string `json:"field"`
	Kind   byte   `json:"kind"`
	Unique bool   `json:"unique"`
}

// CollectionSnapshot is the self-contained dump of one collection: its
// schema, its index definitions, and every record it currently holds. The
// caller (the database layer) is responsible for gathering these from live
// collections under a consistent read — the snapshot package only knows how
// to serialize and deserialize the bytes.
type CollectionSnapshot struct {
	Name    string     `json:"name"`
	Schema  []byte     `json:"schema,omitempty"`
	Indexes []IndexDef `json:"indexes,omitempty"`
	// Records holds each document's already-serialized storage.Record bytes
	// (storage.Record.Serialize output), kept opaque here to avoid an
	// import-cycle between wal and storage.
	Records [][]byte `json:"-"`
}

// Manifest is the header block (length-prefixed JSON, so its size varies)
// written at the start of every snapshot file, followed by one
// length-prefixed, checksummed block per collection.
type Manifest struct {
	Sequence       uint64 `json:"sequence"`
	UpToLSN        uint64 `json:"up_to_lsn"`
	CreatedAtUnix  int64  `json:"created_at_unix"`
	CollectionsLen int    `json:"collections"`
}

// SnapshotFileName returns the canonical name for the snapshot at sequence
// seq, mirroring the WAL's own "wal-%016x.log" segment naming convention.
func SnapshotFileName(seq uint64) string {
	return fmt.Sprintf("snapshot-%016x.snap", seq)
}

// WriteSnapshot serializes collections into a new snapshot file under dir,
// named by seq, and returns its path. upToLSN records the WAL position the
// snapshot is consistent with, so the caller can safely Truncate the WAL to
// it afterwards.
func WriteSnapshot(dir string, seq uint64, upToLSN LSN, collections []CollectionSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(dir, SnapshotFileName(seq))
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}

	w := bufio.NewWriterSize(f, 256*1024)

	if _, err := w.WriteString(SnapshotMagic); err != nil {
		f.Close()
		return "", err
	}

	header := Manifest{
		Sequence:       seq,
		UpToLSN:        uint64(upToLSN),
		CollectionsLen: len(collections),
	}
	if err := writeJSONBlock(w, header); err != nil {
		f.Close()
		return "", err
	}

	// Sorted by name so snapshots of the same logical state are
	// byte-identical, which makes them diffable and test-friendly.
	sorted := make([]CollectionSnapshot, len(collections))
	copy(sorted, collections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, c := range sorted {
		if err := writeCollection(w, c); err != nil {
			f.Close()
			return "", err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize snapshot file: %w", err)
	}
	return path, nil
}

func writeCollection(w *bufio.Writer, c CollectionSnapshot) error {
	meta := struct {
		Name    string     `json:"name"`
		Schema  []byte     `json:"schema,omitempty"`
		Indexes []IndexDef `json:"indexes,omitempty"`
		NumDocs int        `json:"num_docs"`
	}{c.Name, c.Schema, c.Indexes, len(c.Records)}

	if err := writeJSONBlock(w, meta); err != nil {
		return err
	}
	for _, rec := range c.Records {
		if err := writeBlock(w, rec); err != nil {
			return err
		}
	}
	return nil
}

// writeJSONBlock marshals v and writes it as a checksummed length-prefixed
// block, reusing the same framing as writeBlock.
func writeJSONBlock(w *bufio.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeBlock(w, data)
}

// writeBlock writes a block as: 4-byte length | 4-byte CRC32 | payload.
func writeBlock(w *bufio.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(crcBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, err
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, fmt.Errorf("snapshot block checksum mismatch")
	}
	return payload, nil
}

// ReadSnapshot loads a snapshot file previously produced by WriteSnapshot.
func ReadSnapshot(path string) (Manifest, []CollectionSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 256*1024)

	magic := make([]byte, len(SnapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return Manifest{}, nil, fmt.Errorf("failed to read snapshot magic: %w", err)
	}
	if string(magic) != SnapshotMagic {
		return Manifest{}, nil, fmt.Errorf("not a docbase snapshot file: %s", path)
	}

	headerBytes, err := readBlock(r)
	if err != nil {
		return Manifest{}, nil, err
	}
	var header Manifest
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return Manifest{}, nil, err
	}

	collections := make([]CollectionSnapshot, 0, header.CollectionsLen)
	for i := 0; i < header.CollectionsLen; i++ {
		metaBytes, err := readBlock(r)
		if err != nil {
			return Manifest{}, nil, err
		}
		var meta struct {
			Name    string     `json:"name"`
			Schema  []byte     `json:"schema,omitempty"`
			Indexes []IndexDef `json:"indexes,omitempty"`
			NumDocs int        `json:"num_docs"`
		}
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return Manifest{}, nil, err
		}

		records := make([][]byte, 0, meta.NumDocs)
		for j := 0; j < meta.NumDocs; j++ {
			rec, err := readBlock(r)
			if err != nil {
				return Manifest{}, nil, err
			}
			records = append(records, rec)
		}

		collections = append(collections, CollectionSnapshot{
			Name:    meta.Name,
			Schema:  meta.Schema,
			Indexes: meta.Indexes,
			Records: records,
		})
	}

	return header, collections, nil
}

// LatestSnapshot returns the path and sequence number of the most recent
// snapshot in dir, or ok=false if none exists.
func LatestSnapshot(dir string) (path string, seq uint64, ok bool, err error) {
	files, err := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if err != nil {
		return "", 0, false, err
	}

	var bestSeq uint64
	var bestPath string
	found := false
	for _, file := range files {
		var s uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "snapshot-%016x.snap", &s); err != nil {
			continue
		}
		if !found || s > bestSeq {
			bestSeq = s
			bestPath = file
			found = true
		}
	}
	return bestPath, bestSeq, found, nil
}

// PruneSnapshots removes every snapshot file in dir except the one at
// keepSeq, keeping disk usage bounded to roughly one snapshot generation.
func PruneSnapshots(dir string, keepSeq uint64) error {
	files, err := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if err != nil {
		return err
	}
	for _, file := range files {
		var s uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "snapshot-%016x.snap", &s); err != nil {
			continue
		}
		if s == keepSeq {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
