package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Partial file markers left behind by yt-dlp
const (
	PartSuffix     = ".part"
	YTDLSuffix     = ".ytdl"
	FragmentMarker = ".part-Frag"
)

// File matching constants
const (
	MaxNameDifference = 10
	DownloadsDirName  = "Downloads"
	DefaultDirPerm    = 0o755
)

// ErrEmptyFile is returned when a downloaded file has no content
var ErrEmptyFile = errors.New("downloaded file is empty")

// SkippedExtensions are temporary files that never count as a finished download
var SkippedExtensions = []string{PartSuffix, YTDLSuffix, ".tmp", ".temp"}

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPerm)
	}
	return nil
}

// GetHomeDownloadsDir returns the standard Downloads directory for the user
func GetHomeDownloadsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DownloadsDirName), nil
}

// FileExists reports whether path is an existing regular file
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// VerifyDownloadedFile checks that path exists and is non-empty and returns its size
func VerifyDownloadedFile(path string) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("file path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("file does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return 0, ErrEmptyFile
	}
	return info.Size(), nil
}

// FindFileWithFallback tries to find a file by its original path, and if not found,
// searches for files with similar names and the same extension in the same directory
func FindFileWithFallback(filePath string) (string, error) {
	if filePath == "" {
		return "", fmt.Errorf("file path is empty")
	}

	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}

	dir := filepath.Dir(filePath)
	originalName := filepath.Base(filePath)
	originalExt := filepath.Ext(originalName)
	baseName := strings.TrimSuffix(originalName, originalExt)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || isPartialFile(entry.Name()) {
			continue
		}
		entryName := entry.Name()
		entryExt := filepath.Ext(entryName)
		if entryExt != originalExt {
			continue
		}
		if isSimilarFileName(baseName, strings.TrimSuffix(entryName, entryExt)) {
			candidates = append(candidates, filepath.Join(dir, entryName))
		}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("file not found: %s", filePath)
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

// isSimilarFileName checks if two file names are similar enough to be considered the same file
func isSimilarFileName(name1, name2 string) bool {
	clean1 := strings.TrimSpace(name1)
	clean2 := strings.TrimSpace(name2)

	if clean1 == clean2 {
		return true
	}

	for _, variation := range []string{"-" + clean1, clean1 + "-", "_" + clean1, clean1 + "_"} {
		if clean2 == variation {
			return true
		}
	}

	// Truncated names: one contains the other and the difference is small
	if strings.Contains(clean1, clean2) || strings.Contains(clean2, clean1) {
		diff := len(clean1) - len(clean2)
		if diff < 0 {
			diff = -diff
		}
		return diff <= MaxNameDifference
	}

	return false
}

func isPartialFile(name string) bool {
	if strings.Contains(name, FragmentMarker) {
		return true
	}
	for _, ext := range SkippedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// PartialFileCandidates returns the paths yt-dlp may leave behind for filePath
func PartialFileCandidates(filePath string) []string {
	if filePath == "" {
		return nil
	}
	base := strings.TrimSuffix(filePath, PartSuffix)
	candidates := []string{
		base + PartSuffix,
		base + YTDLSuffix,
		strings.TrimSuffix(base, filepath.Ext(base)) + PartSuffix,
	}
	if strings.HasSuffix(filePath, PartSuffix) {
		candidates = append(candidates, filePath)
	}
	if matches, err := filepath.Glob(globEscape(base) + FragmentMarker + "*"); err == nil {
		candidates = append(candidates, matches...)
	}
	return candidates
}

// RemovePartialFiles attempts to delete partial download artifacts for filePath.
// Removal failures are ignored; the number of removed files is returned.
func RemovePartialFiles(filePath string) int {
	removed := 0
	seen := make(map[string]bool)
	for _, p := range PartialFileCandidates(filePath) {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := os.Remove(p); err == nil {
			removed++
		}
	}
	return removed
}

// globEscape escapes glob metacharacters in a literal path
func globEscape(p string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(p)
}
