package replicator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local replicates archives to a directory on the local filesystem.
type Local struct {
	Root string
}

// NewLocal returns a Local replicator rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) Save(ctx context.Context, sourcePath, archiveName, sourceGrouping string) (string, string, error) {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return "", "", fmt.Errorf("replicator: create local root: %w", err)
	}

	wantSum, err := checksumFile(sourcePath)
	if err != nil {
		return "", "", fmt.Errorf("replicator: checksum source: %w", err)
	}

	dest := filepath.Join(l.Root, archiveName)
	if err := copyFile(sourcePath, dest); err != nil {
		return "", "", fmt.Errorf("replicator: copy to local: %w", err)
	}

	gotSum, err := checksumFile(dest)
	if err != nil {
		return "", "", fmt.Errorf("replicator: checksum copy: %w", err)
	}
	if gotSum != wantSum {
		_ = os.Remove(dest)
		return "", "", ErrChecksumMismatch
	}

	return dest, gotSum, nil
}

func (l *Local) Delete(ctx context.Context, location string) error {
	if err := os.Remove(location); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("replicator: delete local: %w", err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, location string) (bool, error) {
	_, err := os.Stat(location)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Checksum(ctx context.Context, location string) (string, bool, error) {
	sum, err := checksumFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, ErrNotFound
		}
		return "", false, err
	}
	return sum, true, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
