// Package annotation reads UAVSAR .ann metadata files, the key/value
// sidecars shipped with every product delivery.
package annotation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Entry is one key of an annotation file, with the unit found in the key
// parenthetical and the trailing comment.
type Entry struct {
	Value   string
	Units   string
	Comment string
}

// Annotation holds the parsed keys of a .ann file. Keys are lowercased with
// the unit parenthetical stripped: "Average Altitude (m) = 12496.7" is keyed
// "average altitude".
type Annotation map[string]Entry

// Parse reads an annotation stream. Everything after a ';' is a comment,
// lines without '=' are skipped, later duplicates win.
func Parse(r io.Reader) (Annotation, error) {
	ann := Annotation{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		info, comment := line, ""
		if i := strings.Index(line, ";"); i >= 0 {
			info = line[:i]
			comment = strings.ToLower(strings.TrimSpace(line[i+1:]))
		}
		eq := strings.Index(info, "=")
		if eq < 0 {
			continue
		}
		name, value := info[:eq], strings.TrimSpace(info[eq+1:])
		key := strings.ToLower(strings.TrimSpace(strings.SplitN(name, "(", 2)[0]))
		if key == "" {
			continue
		}
		units := ""
		if i := strings.Index(name, "("); i >= 0 {
			if j := strings.Index(name[i+1:], ")"); j >= 0 {
				units = name[i+1 : i+1+j]
			}
		}
		ann[key] = Entry{Value: value, Units: units, Comment: comment}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Parse.%w", err)
	}
	return ann, nil
}

// Load reads the annotation file at path.
func Load(path string) (Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Load.%w", err)
	}
	defer f.Close()
	ann, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("Load[%s]: %w", path, err)
	}
	return ann, nil
}

// Find returns the annotation file of a product directory. UAVSAR
// deliveries carry one .ann per flight; when several are present the first
// in lexical order is used.
func Find(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.ann"))
	if err != nil {
		return "", fmt.Errorf("Find.%w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("Find: no annotation file in %s", dir)
	}
	return matches[0], nil
}

// Str returns the raw value of a key. The lookup is case-insensitive and
// ignores the unit parenthetical.
func (a Annotation) Str(key string) (string, error) {
	e, ok := a[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("Str: no key %q in annotation", key)
	}
	return e.Value, nil
}

// Int returns the value of a key as an integer.
func (a Annotation) Int(key string) (int, error) {
	s, err := a.Str(key)
	if err != nil {
		return 0, fmt.Errorf("Int.%w", err)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("Int[%s]: %w", key, err)
	}
	return v, nil
}

// Float returns the value of a key as a float.
func (a Annotation) Float(key string) (float64, error) {
	s, err := a.Str(key)
	if err != nil {
		return 0, fmt.Errorf("Float.%w", err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("Float[%s]: %w", key, err)
	}
	return v, nil
}

// Time parses a timestamp value, whatever format the delivery used.
func (a Annotation) Time(key string) (time.Time, error) {
	s, err := a.Str(key)
	if err != nil {
		return time.Time{}, fmt.Errorf("Time.%w", err)
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("Time[%s]: %w", key, err)
	}
	return t, nil
}
