// Package helpfile parses services help text. Entries are separated by
// lines starting with "& topic"; several consecutive topic lines share
// one body.
package helpfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
)

// File holds parsed help entries.
type File struct {
	Entries map[string]string // lowercase topic -> text
}

// Parse reads help entries from r.
func Parse(r io.Reader) (*File, error) {
	hf := &File{Entries: make(map[string]string)}
	scanner := bufio.NewScanner(r)

	var topics []string
	var buf strings.Builder

	save := func() {
		if len(topics) == 0 {
			return
		}
		text := strings.TrimRight(buf.String(), "\n ")
		for _, topic := range topics {
			hf.Entries[strings.ToLower(topic)] = text
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "& ") {
			topic := strings.TrimSpace(line[2:])
			if buf.Len() == 0 && len(topics) > 0 {
				topics = append(topics, topic)
			} else {
				save()
				topics = []string{topic}
				buf.Reset()
			}
			continue
		}
		if len(topics) > 0 {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("helpfile: %w", err)
	}
	save()
	return hf, nil
}

// Load parses the help file at p.
func Load(p string) (*File, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("helpfile: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// MustParse parses embedded help text and panics on error.
func MustParse(text string) *File {
	hf, err := Parse(strings.NewReader(text))
	if err != nil {
		panic(err)
	}
	return hf
}

// Lookup finds a help entry. It tries an exact match, then the
// shortest topic with the given prefix. A topic containing * or ?
// returns the list of matching topics.
func (hf *File) Lookup(topic string) string {
	topic = strings.ToLower(strings.Join(strings.Fields(topic), " "))
	if topic == "" {
		topic = "help"
	}

	if strings.ContainsAny(topic, "*?") {
		var matches []string
		for key := range hf.Entries {
			if ok, _ := path.Match(topic, key); ok {
				matches = append(matches, strings.ToUpper(key))
			}
		}
		if len(matches) == 0 {
			return ""
		}
		slices.Sort(matches)
		return fmt.Sprintf("Help topics matching \x02%s\x02:\n  %s", topic, strings.Join(matches, ", "))
	}

	if text, ok := hf.Entries[topic]; ok {
		return text
	}

	var best string
	for key := range hf.Entries {
		if strings.HasPrefix(key, topic) && (best == "" || len(key) < len(best)) {
			best = key
		}
	}
	if best != "" {
		return hf.Entries[best]
	}
	return ""
}
