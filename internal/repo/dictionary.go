package repo

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// minTrainingSamples is the minimum number of candidate payloads a type
// must have stored before training a dictionary for it is worthwhile;
// below this a trained dictionary tends to overfit and hurt ratio.
const minTrainingSamples = 10

// maxTrainingSamples caps how many stored payloads are read back to
// build a dictionary, bounding training cost on a large repository.
const maxTrainingSamples = 500

// dictMagic is the zstd dictionary format's magic number.
const dictMagic = 0xEC30A437

// TrainDictionary builds and activates a zstd dictionary for kind from
// the payloads already stored under it, then re-encodes every row
// currently compressed under the previous dictionary generation (or no
// dictionary at all) so the whole store benefits immediately. Training
// is skipped, not an error, when fewer than minTrainingSamples
// candidates exist.
func (r *Repo) TrainDictionary(ctx context.Context, kind domain.DictKind, dictSize int) error {
	if dictSize <= 0 {
		dictSize = r.cfg.DictionarySize
	}
	samples, err := r.collectSamples(ctx, kind)
	if err != nil {
		return err
	}
	if len(samples) < minTrainingSamples {
		r.metrics.RecordDictionaryTraining(string(kind), false)
		return nil
	}

	dict := buildDictionary(samples, dictSize)
	if err := r.codec.LoadDictionary(kind, dict); err != nil {
		return fmt.Errorf("repo: activate trained dictionary for %s: %w", kind, err)
	}

	path, ok := namedFileForDict(kind)
	if !ok {
		return fmt.Errorf("repo: %s has no named file slot", kind)
	}
	if err := r.SetNamedFile(ctx, path, dict); err != nil {
		return err
	}

	if err := r.reencodeUnderDict(ctx, kind); err != nil {
		return err
	}

	r.metrics.RecordDictionaryTraining(string(kind), true)
	if err := r.maybeRetireLegacyDictionary(ctx); err != nil {
		return err
	}
	return r.reclaimFreedPages(ctx)
}

// reclaimFreedPages runs VACUUM after a retraining pass has rewritten a
// potentially large fraction of the objects/chunks tables, so the file
// does not carry the old rows' freed pages indefinitely.
func (r *Repo) reclaimFreedPages(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("repo: vacuum after dictionary training: %w", err)
	}
	return nil
}

func namedFileForDict(kind domain.DictKind) (string, bool) {
	switch kind {
	case domain.DictCommit:
		return domain.NamedFileDictCommit, true
	case domain.DictTree:
		return domain.NamedFileDictTree, true
	case domain.DictChunk:
		return domain.NamedFileDictChunk, true
	default:
		return "", false
	}
}

func typeNumForDict(kind domain.DictKind) (domain.TypeNum, bool) {
	switch kind {
	case domain.DictCommit:
		return domain.TypeCommit, true
	case domain.DictTree:
		return domain.TypeTree, true
	default:
		return 0, false
	}
}

// collectSamples reads up to maxTrainingSamples raw payloads of the kind
// a dictionary is being trained for: commit or tree object bodies, or
// chunk bodies for the chunk dictionary.
func (r *Repo) collectSamples(ctx context.Context, kind domain.DictKind) ([][]byte, error) {
	if kind == domain.DictChunk {
		rows, err := r.db.QueryContext(ctx, "SELECT data, compression, raw_size FROM chunks LIMIT ?", maxTrainingSamples)
		if err != nil {
			return nil, fmt.Errorf("repo: sample chunks: %w", err)
		}
		defer rows.Close()

		var out [][]byte
		for rows.Next() {
			var data []byte
			var compression string
			var rawSize int64
			if err := rows.Scan(&data, &compression, &rawSize); err != nil {
				return nil, fmt.Errorf("repo: scan chunk sample: %w", err)
			}
			raw, err := r.codec.Decompress(domain.Compression(compression), data)
			if err != nil {
				return nil, fmt.Errorf("repo: decompress chunk sample: %w", err)
			}
			out = append(out, raw)
		}
		return out, rows.Err()
	}

	typeNum, ok := typeNumForDict(kind)
	if !ok {
		return nil, fmt.Errorf("repo: %s is not trainable", kind)
	}
	ids, err := r.sampleObjectIDs(ctx, typeNum, maxTrainingSamples)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, id := range ids {
		_, raw, err := r.Objects.GetRaw(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// sampleObjectIDs lists the ids of up to limit objects of typeNum; a
// negative limit lists all of them.
func (r *Repo) sampleObjectIDs(ctx context.Context, typeNum domain.TypeNum, limit int) ([]domain.ObjectID, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT sha FROM objects WHERE type_num = ? LIMIT ?", uint8(typeNum), limit)
	if err != nil {
		return nil, fmt.Errorf("repo: sample object ids: %w", err)
	}
	defer rows.Close()

	var ids []domain.ObjectID
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("repo: scan sample id: %w", err)
		}
		id, err := domain.ParseObjectID(b)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildDictionary assembles a zstd dictionary from training samples.
// This module has no access to a COVER/fastCover-style dictionary
// trainer (none of the example repos ship one, and klauspost/compress
// only consumes dictionaries, it does not build them), so the content
// section is the tail of the concatenated samples rather than an
// entropy-optimized selection; this is the one component in the module
// that approximates, rather than reimplements, the original's training
// step.
func buildDictionary(samples [][]byte, dictSize int) []byte {
	if dictSize <= 0 {
		dictSize = 32 * 1024
	}

	var all []byte
	for _, s := range samples {
		all = append(all, s...)
	}
	if len(all) > dictSize {
		all = all[len(all)-dictSize:]
	}

	id := crc32.ChecksumIEEE(all) | 1

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], dictMagic)
	binary.LittleEndian.PutUint32(header[4:8], id)
	return append(header, all...)
}

// reencodeUnderDict rewrites every stored row eligible for kind's
// dictionary that is currently zstd-compressed, so the freshly trained
// dictionary takes effect immediately rather than only on next write.
func (r *Repo) reencodeUnderDict(ctx context.Context, kind domain.DictKind) error {
	if kind == domain.DictChunk {
		return r.reencodeChunks(ctx)
	}
	typeNum, ok := typeNumForDict(kind)
	if !ok {
		return nil
	}
	return r.reencodeObjects(ctx, typeNum, kind)
}

func (r *Repo) reencodeObjects(ctx context.Context, typeNum domain.TypeNum, kind domain.DictKind) error {
	ids, err := r.sampleObjectIDs(ctx, typeNum, -1)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_, raw, err := r.Objects.GetRaw(ctx, id)
		if err != nil {
			return err
		}
		stored, err := r.codec.Compress(domain.CompressionZstd, kind, raw)
		if err != nil {
			return fmt.Errorf("repo: reencode object %s: %w", id, err)
		}
		if _, err := r.db.ExecContext(ctx,
			"UPDATE objects SET data = ?, compression = 'zstd' WHERE sha = ? AND data IS NOT NULL AND compression = 'zstd'",
			stored, id.Bytes(),
		); err != nil {
			return fmt.Errorf("repo: write reencoded object %s: %w", id, err)
		}
	}
	return nil
}

func (r *Repo) reencodeChunks(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT chunk_sha, data, compression FROM chunks WHERE compression = 'zstd'")
	if err != nil {
		return fmt.Errorf("repo: list chunks for reencode: %w", err)
	}
	type chunkRow struct {
		sha         []byte
		data        []byte
		compression string
	}
	var pending []chunkRow
	for rows.Next() {
		var c chunkRow
		if err := rows.Scan(&c.sha, &c.data, &c.compression); err != nil {
			rows.Close()
			return fmt.Errorf("repo: scan chunk for reencode: %w", err)
		}
		pending = append(pending, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range pending {
		raw, err := r.codec.Decompress(domain.Compression(c.compression), c.data)
		if err != nil {
			return fmt.Errorf("repo: decompress chunk for reencode: %w", err)
		}
		stored, err := r.codec.Compress(domain.CompressionZstd, domain.DictChunk, raw)
		if err != nil {
			return fmt.Errorf("repo: reencode chunk: %w", err)
		}
		if _, err := r.db.ExecContext(ctx,
			"UPDATE chunks SET data = ?, compression = 'zstd' WHERE chunk_sha = ?",
			stored, c.sha,
		); err != nil {
			return fmt.Errorf("repo: write reencoded chunk: %w", err)
		}
	}
	return nil
}

// maybeRetireLegacyDictionary drops the pre-per-type legacy dictionary
// once all three per-type dictionaries have been trained, since nothing
// written from this point on needs it for new encodes; it stays
// registered with the codec (via decode-by-frame-id) until this point so
// older zstd frames keep decoding correctly.
func (r *Repo) maybeRetireLegacyDictionary(ctx context.Context) error {
	have := map[domain.DictKind]bool{}
	for _, k := range r.codec.DictionaryKinds() {
		have[k] = true
	}
	if !(have[domain.DictCommit] && have[domain.DictTree] && have[domain.DictChunk]) {
		return nil
	}
	if !have[domain.DictLegacy] {
		return nil
	}
	if err := r.reencodeLegacyHoldouts(ctx); err != nil {
		return err
	}
	r.codec.RemoveDictionary(domain.DictLegacy)
	return r.RemoveNamedFile(ctx, domain.NamedFileDictLegacy)
}

// reencodeLegacyHoldouts rewrites any row still compressed with zstd
// that the per-type passes above did not touch (e.g. blob/tag inline
// objects, which use no dictionary, stay as-is; this covers commit/tree
// objects beyond the sampling limit).
func (r *Repo) reencodeLegacyHoldouts(ctx context.Context) error {
	if err := r.reencodeObjects(ctx, domain.TypeCommit, domain.DictCommit); err != nil {
		return err
	}
	if err := r.reencodeObjects(ctx, domain.TypeTree, domain.DictTree); err != nil {
		return err
	}
	return r.reencodeChunks(ctx)
}
