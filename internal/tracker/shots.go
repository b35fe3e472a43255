package tracker

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Shot is a closed range of frame indices [Begin, End] into a sorted frame list.
type Shot struct {
	Begin int
	End   int
}

// ReadShots parses a shot boundaries file. Each non-empty line holds the first and
// last frame name of a shot separated by a space, without the extension.
// Names are resolved against frames, the sorted frame file names.
func ReadShots(r io.Reader, frames []string, ext string) ([]Shot, error) {
	var shots []Shot
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"begin end\", got %q", line, text)
		}
		begin := slices.Index(frames, fields[0]+ext)
		end := slices.Index(frames, fields[1]+ext)
		if begin < 0 || end < 0 {
			return nil, fmt.Errorf("line %d: frame %q or %q not found", line, fields[0]+ext, fields[1]+ext)
		}
		if end < begin {
			return nil, fmt.Errorf("line %d: shot ends before it begins", line)
		}
		shots = append(shots, Shot{Begin: begin, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading shot boundaries: %w", err)
	}
	return shots, nil
}
