package search

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// buildExtensionMap normalizes an extension list ("docx", ".DOC", ...) into
// a lookup map keyed by lowercase dotted extensions.
func buildExtensionMap(extensions []string) map[string]bool {
	m := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			m["."+ext] = true
		}
	}
	return m
}

// findDocuments enumerates candidate files under root recursively, keeping
// only the recognized extensions. Hidden directories and Word owner-lock
// files ("~$...") are skipped. Unreadable subtrees are skipped silently; an
// unreadable root is an error, because a missing or unreachable root is a
// scan-level failure rather than a per-file one.
func findDocuments(root string, extensions map[string]bool) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			return nil
		}
		if extensions[strings.ToLower(filepath.Ext(name))] {
			abs, aerr := filepath.Abs(path)
			if aerr != nil {
				abs = path
			}
			files = append(files, abs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// partition splits files into at most workers contiguous slices sized by
// integer division, the final slice absorbing the remainder. With fewer
// files than workers every file gets its own slice. The union of the slices
// is always exactly the input, in order, with no duplicates.
func partition(files []string, workers int) [][]string {
	if len(files) == 0 || workers <= 0 {
		return nil
	}
	perWorker := len(files) / workers
	if perWorker == 0 {
		perWorker = 1
	}

	var slices [][]string
	for i := 0; i < workers; i++ {
		start := i * perWorker
		if start >= len(files) {
			break
		}
		end := start + perWorker
		if i == workers-1 || end > len(files) {
			end = len(files)
		}
		slices = append(slices, files[start:end])
	}
	return slices
}
