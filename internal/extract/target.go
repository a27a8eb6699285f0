package extract

import (
	"crypto/sha256"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yourorg/unfreeze/internal/model"
)

// Container formats reported on a Target.
const (
	FormatELF     = "elf"
	FormatPE      = "pe"
	FormatMachO   = "macho"
	FormatUnknown = "unknown"
)

// OpenTarget inspects the binary at path without modifying it. Identity is
// the SHA-256 of the content, so a renamed copy keeps its persisted version.
func OpenTarget(path string) (model.Target, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.Target{}, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return model.Target{}, fmt.Errorf("stat target: %w", err)
	}
	if !st.Mode().IsRegular() {
		return model.Target{}, fmt.Errorf("target %s is not a regular file", abs)
	}
	sum, err := hashFile(abs)
	if err != nil {
		return model.Target{}, fmt.Errorf("hash target: %w", err)
	}
	return model.Target{
		Path:     abs,
		Name:     filepath.Base(abs),
		Identity: sum,
		Format:   detectFormat(abs),
		Size:     st.Size(),
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	//nolint:errcheck // read-only file
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func detectFormat(path string) string {
	if f, err := elf.Open(path); err == nil {
		_ = f.Close()
		return FormatELF
	}
	if f, err := pe.Open(path); err == nil {
		_ = f.Close()
		return FormatPE
	}
	if f, err := macho.Open(path); err == nil {
		_ = f.Close()
		return FormatMachO
	}
	if f, err := macho.OpenFat(path); err == nil {
		_ = f.Close()
		return FormatMachO
	}
	return FormatUnknown
}
