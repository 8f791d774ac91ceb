package source

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/njoerd114/transcriptrelay/internal/model"
)

// dictionaryStore holds VoiceInk's custom vocabulary, not transcriptions.
const dictionaryStore = "dictionary.store"

// CandidateDirs returns the directories VoiceInk may keep its store in, most
// likely first: the non-sandboxed Application Support locations, then the
// sandbox containers.
func CandidateDirs(home string) []string {
	return []string{
		filepath.Join(home, "Library", "Application Support", "com.prakashjoshipax.VoiceInk"),
		filepath.Join(home, "Library", "Application Support", "VoiceInk"),
		filepath.Join(home, "Library", "Containers", "com.prakashjoshipax.VoiceInk", "Data", "Library", "Application Support"),
		filepath.Join(home, "Library", "Containers", "VoiceInk", "Data", "Library", "Application Support"),
	}
}

// FindStore locates the VoiceInk store under home. Within each candidate
// directory it prefers default.store, then any other *.store file except the
// vocabulary store, then *.sqlite files.
func FindStore(home string) (string, error) {
	found := FindStores(home)
	if len(found) == 0 {
		return "", fmt.Errorf("%w: no VoiceInk store found under %s", model.ErrSourceUnavailable, home)
	}
	return found[0], nil
}

// FindStores returns the preferred store of every candidate directory that
// has one, in [CandidateDirs] order.
func FindStores(home string) []string {
	var found []string
	for _, dir := range CandidateDirs(home) {
		if path, ok := findInDir(dir); ok {
			found = append(found, path)
		}
	}
	return found
}

func findInDir(dir string) (string, bool) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", false
	}

	def := filepath.Join(dir, "default.store")
	if isFile(def) {
		return def, true
	}

	for _, pattern := range []string{"*.store", "*.sqlite"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		slices.Sort(matches)
		for _, m := range matches {
			if filepath.Base(m) == dictionaryStore {
				continue
			}
			if isFile(m) {
				return m, true
			}
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
