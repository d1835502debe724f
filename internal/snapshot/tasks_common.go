package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// runCommandToFile runs an external tool under the task context and writes
// its stdout to outPath. The context deadline is the tool's budget; a hung
// tool is killed, leaving whatever partial output was already written.
func runCommandToFile(ctx context.Context, outPath, name string, args ...string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(outPath), err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// writeJSON writes v as indented JSON.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// copyFileInto copies src into dir keeping its base name.
func copyFileInto(src, dir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(dir, filepath.Base(src)))
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// writeLimitationNotice explains why a capture produced less than a full
// export. The notice is itself evidence of the limitation.
func writeLimitationNotice(dir, reason string) error {
	notice := fmt.Sprintf("CAPTURE LIMITATION NOTICE\n\n%s\n\nRecorded: %s\n",
		reason, time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dir, "NOTICE.txt"), []byte(notice), 0o644)
}

// captureFSMetadata writes a bounded "path|size|mtime" listing of the given
// roots, stopping at the hard byte cap.
func captureFSMetadata(ctx context.Context, outPath string, roots []string, capBytes int64) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata listing: %w", err)
	}
	defer out.Close()

	var written int64
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			line := fmt.Sprintf("%s|%d|%s\n", path, fi.Size(), fi.ModTime().Format(time.RFC3339))
			n, werr := out.WriteString(line)
			written += int64(n)
			if werr != nil {
				return werr
			}
			if written >= capBytes {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("metadata walk of %s failed: %w", root, err)
		}
		if written >= capBytes || ctx.Err() != nil {
			break
		}
	}
	return nil
}
