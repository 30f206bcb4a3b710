package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"setforge/internal/config"
	"setforge/internal/faults"
)

// ErrNoInput is wrapped when a directory holds no file of the wanted kind.
var ErrNoInput = errors.New("no input files")

// FileManager provides utilities for managing files in the working folders
type FileManager struct {
	config *config.Config
	logger zerolog.Logger
}

// NewFileManager returns a FileManager for cfg.
func NewFileManager(cfg *config.Config, logger zerolog.Logger) *FileManager {
	return &FileManager{config: cfg, logger: logger}
}

// ListFiles returns the files in dir with extension ext, sorted by name.
func (fm *FileManager) ListFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.WrapIO("read directory", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// LatestFile returns the most recently modified file in dir with extension ext.
func (fm *FileManager) LatestFile(dir, ext string) (string, error) {
	files, err := fm.ListFiles(dir, ext)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", faults.WrapIO("find latest "+ext, dir, ErrNoInput)
	}
	type stamped struct {
		path string
		mod  int64
	}
	list := make([]stamped, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return "", faults.WrapIO("stat", f, err)
		}
		list = append(list, stamped{f, info.ModTime().UnixNano()})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].mod > list[j].mod })
	return list[0].path, nil
}

// LatestXML returns the newest optimizer export.
func (fm *FileManager) LatestXML() (string, error) {
	return fm.LatestFile(fm.config.Paths.RawXML, ".xml")
}

// LatestCSV returns the newest processed table.
func (fm *FileManager) LatestCSV() (string, error) {
	return fm.LatestFile(fm.config.Paths.ProcessedCSV, ".csv")
}

// RemoveFiles deletes every file with extension ext in dir and returns what
// was removed. Failures are logged and the rest are still attempted.
func (fm *FileManager) RemoveFiles(dir, ext string) ([]string, error) {
	files, err := fm.ListFiles(dir, ext)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			fm.logger.Warn().Err(err).Str("file", f).Msg("could not delete file")
			errs = append(errs, faults.WrapIO("remove", f, err))
			continue
		}
		fm.logger.Info().Str("file", f).Msg("deleted old file")
		removed = append(removed, f)
	}
	return removed, errors.Join(errs...)
}

// StaleError lists the .set files that block a run under the fail policy.
type StaleError struct {
	Dir   string
	Files []string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%d stale setfile(s) in %s", len(e.Files), e.Dir)
}

// PrepareDestinations makes sure no .set file from an earlier run is left in
// any destination. Under StaleClean they are deleted; under StaleFail their
// presence is a FormatError wrapping a *StaleError.
func (fm *FileManager) PrepareDestinations(dirs []string, policy string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return faults.WrapIO("create directory", dir, err)
		}
		stale, err := fm.ListFiles(dir, ".set")
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			continue
		}
		switch policy {
		case config.StaleFail:
			return &faults.FormatError{Source: dir, Element: "empty setfile directory", Err: &StaleError{Dir: dir, Files: stale}}
		default:
			if _, err := fm.RemoveFiles(dir, ".set"); err != nil {
				return err
			}
		}
	}
	return nil
}

// CopyFile copies src to dst, replacing dst.
func (fm *FileManager) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return faults.WrapIO("open", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return faults.WrapIO("create", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return faults.WrapIO("copy", dst, err)
	}
	return faults.WrapIO("close", dst, out.Close())
}
