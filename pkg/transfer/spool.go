package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// DefaultSpoolMemoryLimitBytes is the largest object held in memory to give
// the PUT a seekable body. Anything larger goes through a temp file.
const DefaultSpoolMemoryLimitBytes int64 = 16 << 20 // 16 MiB

// spoolBody drains src into a seekable buffer so the SDK can replay the PUT
// body on retry. src is always closed. The returned cleanup releases the
// buffer and must be called once the PUT is done.
func spoolBody(src io.ReadCloser, size, memLimit int64) (io.ReadSeeker, func() error, error) {
	defer func() { _ = src.Close() }()

	if memLimit <= 0 {
		memLimit = DefaultSpoolMemoryLimitBytes
	}

	// Objects of known, small size stay in memory.
	if size >= 0 && size <= memLimit {
		data, err := io.ReadAll(io.LimitReader(src, size))
		if err != nil {
			return nil, nil, fmt.Errorf("transfer: buffer object: %w", err)
		}
		return bytes.NewReader(data), func() error { return nil }, nil
	}

	f, err := os.CreateTemp("", "mobsync-spool-*")
	if err != nil {
		return nil, nil, fmt.Errorf("transfer: create spool file: %w", err)
	}
	cleanup := func() error {
		name := f.Name()
		if err := f.Close(); err != nil {
			_ = os.Remove(name)
			return fmt.Errorf("transfer: close spool file: %w", err)
		}
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("transfer: remove spool file: %w", err)
		}
		return nil
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("transfer: spool object: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("transfer: rewind spool file: %w", err)
	}
	return f, cleanup, nil
}
