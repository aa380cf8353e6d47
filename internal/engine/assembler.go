package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Assemble concatenates the stored segments into outputPath in ascending
// index order. Failed results are skipped. It returns the number of bytes
// written, models.ErrNoSegments when nothing survived, or models.ErrIO.
func Assemble(results []models.SegmentResult, outputPath string) (int64, error) {
	ok := make([]models.SegmentResult, 0, len(results))
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return 0, models.Errorf(models.ErrNoSegments, "assemble", "all %d segments failed", len(results))
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].Index < ok[j].Index })

	partPath := outputPath + ".part"
	written, err := concatSegments(ok, partPath)
	if err != nil {
		os.Remove(partPath)
		return 0, err
	}
	if err := os.Rename(partPath, outputPath); err != nil {
		os.Remove(partPath)
		return 0, models.Wrap(models.ErrIO, "rename output", err)
	}
	return written, nil
}

// concatSegments writes all segment files to a single file.
func concatSegments(segments []models.SegmentResult, outputPath string) (int64, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, models.Wrap(models.ErrIO, "create output", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	var bytesWritten int64
	for _, seg := range segments {
		n, err := appendFile(w, seg.Path)
		if err != nil {
			return 0, models.Wrap(models.ErrIO, fmt.Sprintf("write segment %d", seg.Index), err)
		}
		bytesWritten += n
	}

	if err := w.Flush(); err != nil {
		return 0, models.Wrap(models.ErrIO, "flush output", err)
	}
	if err := f.Close(); err != nil {
		return 0, models.Wrap(models.ErrIO, "close output", err)
	}
	return bytesWritten, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(w, src)
}
