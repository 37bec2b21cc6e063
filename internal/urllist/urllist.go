// Package urllist manages the CSV input list of indicator URLs: a single
// "url" column with a header row.
package urllist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

// Header is the only column of the list.
const Header = "url"

// List is a CSV file of identifiers. Appends from one process are serialized.
type List struct {
	path      string
	validator indicator.Validator
	mu        sync.Mutex
}

// New returns a List backed by path. The zero Validator accepts the default
// URL prefix.
func New(path string, validator indicator.Validator) *List {
	return &List{path: path, validator: validator}
}

// Path returns the backing file.
func (l *List) Path() string {
	return l.path
}

// Read returns the URLs in file order. Blank rows are dropped; a missing
// file is an empty list.
func (l *List) Read() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *List) read() ([]string, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	urls := []string{}
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read url list: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(row[0])
		if first {
			first = false
			if strings.EqualFold(v, Header) {
				continue
			}
		}
		if v == "" {
			continue
		}
		urls = append(urls, v)
	}
	return urls, nil
}

// Append validates raw and adds it to the list, creating the file with its
// header when missing. It returns the stored form of the URL, or
// indicator.ErrAlreadyExists when an identical entry is present.
func (l *List) Append(raw string) (string, error) {
	url, err := l.validator.Validate(raw)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if err != nil {
		return "", err
	}
	for _, u := range existing {
		if u == url {
			return "", indicator.ErrAlreadyExists
		}
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create url list dir: %w", err)
		}
	}
	_, statErr := os.Stat(l.path)
	needsHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return "", fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write([]string{Header}); err != nil {
			return "", fmt.Errorf("write url list header: %w", err)
		}
	}
	if err := w.Write([]string{url}); err != nil {
		return "", fmt.Errorf("append url: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("append url: %w", err)
	}
	return url, nil
}
