package analysis

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"github.com/signalspoc/signals/internal/types"
)

// Pair is one pull request and one task it links to.
type Pair struct {
	PR   *types.PRSnapshot
	Task *types.TaskSnapshot
}

// EntityID is the AnalysisState key for the pair.
func (p Pair) EntityID() string {
	return "PR:" + strconv.Itoa(p.PR.Number) + "|TASK:" + p.Task.ExternalID
}

// Checksum fingerprints the fields the analyzer looks at. Any change to
// them yields a different checksum; nothing else does.
func (p Pair) Checksum() string {
	h := blake3.New()
	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(s))
	}
	ts := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}

	field(p.PR.Title)
	field(string(p.PR.State))
	field(strconv.FormatBool(p.PR.Draft))
	field(strconv.FormatBool(p.PR.Merged))
	field(p.PR.Author)
	field(ts(p.PR.UpdatedAt))

	field(string(p.Task.SourceSystem))
	field(p.Task.Title)
	field(p.Task.Status)
	field(p.Task.Assignee)
	field(ts(p.Task.ExternalModifiedAt))

	return hex.EncodeToString(h.Sum(nil))
}
