package data

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const maxLineBytes = 1 << 20

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanLines(f, path)
}

func scanLines(r io.Reader, name string) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return lines, nil
}

// writeLines writes one entry per line. Embedded newlines are flattened so
// that split files stay line-aligned. The file is written under a temporary
// name and renamed, so path either holds every line or does not exist.
func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			os.Remove(tmp)
			return errors.Wrapf(err, "write %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(os.Rename(tmp, path), "commit %s", path)
}

func missingFiles(paths ...string) error {
	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing raw corpus files: %s", strings.Join(missing, ", "))
	}
	return nil
}
