package nssfile

import (
	"strconv"
	"strings"
)

func FormatPasswd(entries []PasswdEntry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name)
		b.WriteByte(':')
		b.WriteString(e.Passwd)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.UID))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.GID))
		b.WriteByte(':')
		b.WriteString(e.Gecos)
		b.WriteByte(':')
		b.WriteString(e.Home)
		b.WriteByte(':')
		b.WriteString(e.Shell)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func FormatGroup(entries []GroupEntry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name)
		b.WriteByte(':')
		b.WriteString(e.Passwd)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.GID))
		b.WriteByte(':')
		b.WriteString(strings.Join(e.Members, ","))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func FormatShadow(entries []ShadowEntry) []byte {
	var b strings.Builder
	for _, e := range entries {
		for i, f := range []string{e.Name, e.Hash, e.LastChange, e.Min, e.Max, e.Warn, e.Inactive, e.Expire, e.Reserved} {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(f)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
