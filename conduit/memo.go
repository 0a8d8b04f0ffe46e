package conduit

import (
	"bytes"
	"strings"

	"github.com/Tavisco/palm-sync/wire"
)

// memoSchema is a MemoDB record: one NUL-terminated text.
var memoSchema = wire.NewSchema("MemoRecord", wire.CString("value"))

// Memo is a decoded MemoDB record.
type Memo struct {
	ID       uint32
	Category uint8
	Text     string
}

// Title returns the first line of the memo.
func (m Memo) Title() string {
	title, _, _ := strings.Cut(m.Text, "\n")
	return title
}

// IsBlank reports whether the memo holds only whitespace.
func (m Memo) IsBlank() bool {
	return strings.TrimSpace(m.Text) == ""
}

// DecodeMemo decodes the text of a MemoDB record. A record missing its
// terminator is taken whole.
func DecodeMemo(data []byte) (string, error) {
	if bytes.IndexByte(data, 0) < 0 {
		return string(data), nil
	}

	rec, _, err := memoSchema.Deserialize(data)
	if err != nil {
		return "", err
	}

	return rec.String("value"), nil
}

// EncodeMemo encodes text as a MemoDB record.
func EncodeMemo(text string) ([]byte, error) {
	return memoSchema.Serialize(wire.Record{"value": text})
}
