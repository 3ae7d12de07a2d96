package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"ljspush/corpus"
)

const (
	DefaultSplit        = "train"
	DefaultMaxShardSize = 500 << 20

	// DataDir is the repository directory holding the parquet shards.
	DataDir = "data"
	// AudioDir holds audio files uploaded next to shards that do not embed them.
	AudioDir = "audio"
	// MetadataKey is the parquet key-value entry carrying the feature schema.
	MetadataKey = "huggingface"

	rowGroupBytes = 64 << 20
)

type (
	ShardOptions struct {
		Split        string
		MaxShardSize int64
		// EmbedAudio stores audio bytes inside the shards. Otherwise the
		// audio cell holds a repository-relative path and the files are
		// returned as blobs to upload alongside.
		EmbedAudio bool
	}

	Shard struct {
		RepoPath  string
		LocalPath string
		Rows      int
		Size      int64
	}

	Blob struct {
		RepoPath  string
		LocalPath string
		Size      int64
	}

	Written struct {
		Shards   []Shard
		Blobs    []Blob
		NumBytes int64
	}

	// parquetAudio is the HF Audio cell. Bytes is nil (a null cell) when
	// the audio is referenced by path only.
	parquetAudio struct {
		Bytes *[]byte `parquet:"bytes"`
		Path  string  `parquet:"path,optional"`
	}

	parquetRow struct {
		ID    string       `parquet:"id"`
		Text  string       `parquet:"text"`
		Audio parquetAudio `parquet:"audio"`
	}
)

func DefaultShardOptions() ShardOptions {
	return ShardOptions{Split: DefaultSplit, MaxShardSize: DefaultMaxShardSize, EmbedAudio: true}
}

// ShardPattern is the data_files glob matching every shard of split.
func ShardPattern(split string) string {
	return path.Join(DataDir, split+"-*")
}

// WriteShards serializes ds into parquet files under dir, mirroring the
// repository layout (dir/data/<split>-NNNNN-of-MMMMM.parquet).
func WriteShards(ctx context.Context, ds *Dataset, dir string, opts ShardOptions) (Written, error) {
	if opts.Split == "" {
		opts.Split = DefaultSplit
	}
	if opts.MaxShardSize <= 0 {
		opts.MaxShardSize = DefaultMaxShardSize
	}

	meta, err := ds.features.parquetMetadata()
	if err != nil {
		return Written{}, fmt.Errorf("encoding features: %w", err)
	}

	sizes := make([]int64, len(ds.rows))
	for i, r := range ds.rows {
		fi, err := os.Stat(r.Audio.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Written{}, fmt.Errorf("%w: %s disappeared after validation", corpus.ErrMissingAudio, r.Audio.Path)
			}
			return Written{}, fmt.Errorf("stat audio: %w", err)
		}
		sizes[i] = fi.Size()
	}

	groups := planShards(ds.rows, sizes, opts)

	if err := os.MkdirAll(filepath.Join(dir, DataDir), 0o755); err != nil {
		return Written{}, fmt.Errorf("creating shard directory: %w", err)
	}

	var res Written
	offset := 0
	for i, n := range groups {
		name := fmt.Sprintf("%s-%05d-of-%05d.parquet", opts.Split, i, len(groups))
		repoPath := path.Join(DataDir, name)
		local := filepath.Join(dir, DataDir, name)

		size, err := writeShard(ctx, local, ds.rows[offset:offset+n], meta, opts.EmbedAudio)
		if err != nil {
			return Written{}, fmt.Errorf("writing shard %s: %w", repoPath, err)
		}
		res.Shards = append(res.Shards, Shard{RepoPath: repoPath, LocalPath: local, Rows: n, Size: size})
		res.NumBytes += size
		offset += n
	}

	if !opts.EmbedAudio {
		seen := make(map[string]bool, len(ds.rows))
		for i, r := range ds.rows {
			rp := blobPath(r)
			if seen[rp] {
				continue
			}
			seen[rp] = true
			res.Blobs = append(res.Blobs, Blob{RepoPath: rp, LocalPath: r.Audio.Path, Size: sizes[i]})
		}
	}

	return res, nil
}

// planShards returns the row count of each shard. A shard closes once
// adding the next row would exceed MaxShardSize; every shard holds at
// least one row.
func planShards(rows []Row, sizes []int64, opts ShardOptions) []int {
	var groups []int
	var cur int
	var curSize int64
	for i, r := range rows {
		est := int64(len(r.ID) + len(r.Text))
		if opts.EmbedAudio {
			est += sizes[i] + int64(len(filepath.Base(r.Audio.Path)))
		} else {
			est += int64(len(blobPath(r)))
		}
		if cur > 0 && curSize+est > opts.MaxShardSize {
			groups = append(groups, cur)
			cur, curSize = 0, 0
		}
		cur++
		curSize += est
	}
	if cur > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func blobPath(r Row) string {
	return path.Join(AudioDir, filepath.Base(r.Audio.Path))
}

func writeShard(ctx context.Context, local string, rows []Row, meta string, embed bool) (int64, error) {
	f, err := os.Create(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[parquetRow](f, parquet.KeyValueMetadata(MetadataKey, meta))

	var buffered int64
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		pr := parquetRow{ID: r.ID, Text: r.Text}
		if embed {
			b, err := os.ReadFile(r.Audio.Path)
			if err != nil {
				return 0, fmt.Errorf("reading audio: %w", err)
			}
			pr.Audio = parquetAudio{Bytes: &b, Path: filepath.Base(r.Audio.Path)}
			buffered += int64(len(b))
		} else {
			pr.Audio = parquetAudio{Path: blobPath(r)}
		}

		if _, err := w.Write([]parquetRow{pr}); err != nil {
			return 0, err
		}
		if buffered >= rowGroupBytes {
			if err := w.Flush(); err != nil {
				return 0, err
			}
			buffered = 0
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), f.Close()
}
