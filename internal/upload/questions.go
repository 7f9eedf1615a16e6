package upload

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadQuestions extracts an ordered question list from a local .txt (one
// question per line) or .csv (first column, optional "question" header) file.
func ReadQuestions(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".txt" && ext != ".csv" {
		return nil, fmt.Errorf("%w: %s (batch accepts .txt or .csv)", ErrUnsupportedFileType, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open questions: %w", err)
	}
	defer f.Close()

	if ext == ".csv" {
		return parseCSV(f)
	}
	return parseLines(f)
}

func parseLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return out, nil
}

func parseCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out []string
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read questions csv: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		cell := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		if row == 0 && strings.EqualFold(cell, "question") {
			continue
		}
		if cell == "" {
			continue
		}
		out = append(out, cell)
	}
	return out, nil
}
