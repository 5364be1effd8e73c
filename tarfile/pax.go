package tarfile

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Keys of pax records that override header fields.
const (
	paxPath     = "path"
	paxLinkpath = "linkpath"
	paxSize     = "size"
	paxUID      = "uid"
	paxGID      = "gid"
	paxMtime    = "mtime"
	paxUname    = "uname"
	paxGname    = "gname"

	// PaxSchilyXattr prefixes records that carry extended attributes.
	PaxSchilyXattr = "SCHILY.xattr."
)

// parsePAX decodes a pax extended header body made of
// "<len> <key>=<value>\n" records, where len counts the whole record.
func parsePAX(body []byte) (map[string]string, error) {
	records := make(map[string]string)
	for len(body) > 0 {
		// Trailing NUL padding is tolerated.
		if body[0] == NUL {
			break
		}
		sp := bytes.IndexByte(body, ' ')
		if sp <= 0 {
			return nil, fmt.Errorf("pax record missing length")
		}
		n, err := strconv.Atoi(string(body[:sp]))
		if err != nil || n <= sp+1 || n > len(body) {
			return nil, fmt.Errorf("pax record has invalid length %q", body[:sp])
		}
		rec := body[sp+1 : n]
		body = body[n:]
		if len(rec) == 0 || rec[len(rec)-1] != '\n' {
			return nil, fmt.Errorf("pax record not newline terminated")
		}
		rec = rec[:len(rec)-1]
		eq := bytes.IndexByte(rec, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("pax record missing key")
		}
		// An empty value is kept: it cancels a global default for the key.
		records[string(rec[:eq])] = string(rec[eq+1:])
	}
	return records, nil
}

// formatPAX encodes records in sorted key order so output is deterministic.
func formatPAX(records map[string]string) []byte {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v := records[k]
		l := len(k) + len(v) + 3 // " " + "=" + "\n"
		n := 0
		for {
			p := l + len(strconv.Itoa(n))
			if p == n {
				break
			}
			n = p
		}
		fmt.Fprintf(&buf, "%d %s=%s\n", n, k, v)
	}
	return buf.Bytes()
}

// paxOverrides is the set of header fields a pax record set can replace.
type paxOverrides struct {
	records map[string]string
}

// apply overrides fields of h from the recognized keys. Numeric values that
// do not parse are a corrupt header.
func (p paxOverrides) apply(h *Header) error {
	for k, v := range p.records {
		if v == "" {
			continue
		}
		var err error
		switch k {
		case paxPath:
			h.Name = v
		case paxLinkpath:
			h.Linkname = v
		case paxUname:
			h.Uname = v
		case paxGname:
			h.Gname = v
		case paxSize:
			h.Size, err = strconv.ParseUint(v, 10, 64)
		case paxUID:
			h.UID, err = strconv.ParseUint(v, 10, 64)
		case paxGID:
			h.GID, err = strconv.ParseUint(v, 10, 64)
		case paxMtime:
			h.Mtime, err = parsePAXTime(v)
		}
		if err != nil {
			return fmt.Errorf("pax %s=%q: %v", k, v, err)
		}
	}
	return nil
}

// xattrs returns the SCHILY.xattr records with the prefix stripped.
func (p paxOverrides) xattrs() map[string]string {
	var out map[string]string
	for k, v := range p.records {
		if name, ok := strings.CutPrefix(k, PaxSchilyXattr); ok {
			if out == nil {
				out = make(map[string]string)
			}
			out[name] = v
		}
	}
	return out
}

// parsePAXTime reads the whole seconds of a pax timestamp, which may carry a
// fractional part. Times before the epoch clamp to zero.
func parsePAXTime(v string) (uint64, error) {
	secs, _, _ := strings.Cut(v, ".")
	if strings.HasPrefix(secs, "-") {
		if _, err := strconv.ParseInt(secs, 10, 64); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return strconv.ParseUint(secs, 10, 64)
}
