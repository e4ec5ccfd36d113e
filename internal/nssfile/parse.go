package nssfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func parseColonLine(line string) []string {
	// Keep trailing empty fields.
	return strings.Split(line, ":")
}

func readLines(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	var lines []string
	for s.Scan() {
		line := s.Text()
		trim := strings.TrimSpace(line)
		if trim == "" || strings.HasPrefix(trim, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func atoi(field, ctx string) (int, error) {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("invalid int %q in %s: %w", field, ctx, err)
	}
	return n, nil
}

// ParsePasswd reads passwd lines. Blank and comment lines are skipped;
// malformed lines are errors.
func ParsePasswd(b []byte) ([]PasswdEntry, error) {
	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	out := make([]PasswdEntry, 0, len(lines))
	for i, line := range lines {
		parts := parseColonLine(line)
		if len(parts) != 7 {
			return nil, fmt.Errorf("passwd line %d: want 7 fields, got %d", i+1, len(parts))
		}
		uid, err := atoi(parts[2], "passwd.uid")
		if err != nil {
			return nil, err
		}
		gid, err := atoi(parts[3], "passwd.gid")
		if err != nil {
			return nil, err
		}
		out = append(out, PasswdEntry{
			Name:   parts[0],
			Passwd: parts[1],
			UID:    uid,
			GID:    gid,
			Gecos:  parts[4],
			Home:   parts[5],
			Shell:  parts[6],
		})
	}
	return out, nil
}

func ParseGroup(b []byte) ([]GroupEntry, error) {
	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	out := make([]GroupEntry, 0, len(lines))
	for i, line := range lines {
		parts := parseColonLine(line)
		if len(parts) != 4 {
			return nil, fmt.Errorf("group line %d: want 4 fields, got %d", i+1, len(parts))
		}
		gid, err := atoi(parts[2], "group.gid")
		if err != nil {
			return nil, err
		}
		members := []string{}
		if parts[3] != "" {
			members = strings.Split(parts[3], ",")
		}
		out = append(out, GroupEntry{Name: parts[0], Passwd: parts[1], GID: gid, Members: members})
	}
	return out, nil
}

func ParseShadow(b []byte) ([]ShadowEntry, error) {
	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	out := make([]ShadowEntry, 0, len(lines))
	for i, line := range lines {
		parts := parseColonLine(line)
		if len(parts) != 9 {
			return nil, fmt.Errorf("shadow line %d: want 9 fields, got %d", i+1, len(parts))
		}
		out = append(out, ShadowEntry{
			Name:       parts[0],
			Hash:       parts[1],
			LastChange: parts[2],
			Min:        parts[3],
			Max:        parts[4],
			Warn:       parts[5],
			Inactive:   parts[6],
			Expire:     parts[7],
			Reserved:   parts[8],
		})
	}
	return out, nil
}
