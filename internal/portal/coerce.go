package portal

import (
	"bytes"
	"strconv"
	"strings"
)

// The portal encodes status fields inconsistently: booleans arrive as
// "0"/"1" strings, native booleans, or integers, and counts arrive as
// strings or numbers. FlexBool and FlexInt canonicalize at the decode
// boundary so nothing downstream sees the raw encodings.

// FlexBool decodes "0"/"1", "true"/"false", 0/1, true/false, and null.
// Anything unrecognized decodes to false rather than failing the whole
// payload.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	switch s {
	case "null", "", `""`:
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	case "false":
		*b = false
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		*b = true
	default:
		*b = false
	}
	return nil
}

func (b FlexBool) Bool() bool { return bool(b) }

// FlexInt decodes numbers and numeric strings; null, empty, and
// unparseable values decode to zero.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" || s == "" || s == `""` {
		*n = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		*n = 0
		return nil
	}
	*n = FlexInt(v)
	return nil
}

func (n FlexInt) Int() int { return int(n) }

// FlexString decodes strings and bare numbers; the portal's code field
// arrives both ways.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	v := string(bytes.TrimSpace(data))
	if v == "null" {
		*s = ""
		return nil
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		*s = FlexString(v[1 : len(v)-1])
		return nil
	}
	*s = FlexString(v)
	return nil
}

func (s FlexString) String() string { return string(s) }
