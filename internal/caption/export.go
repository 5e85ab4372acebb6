package caption

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conveycall/convey/internal/domain"
)

// Transcript line format, tab separated:
//
//	<RFC3339Nano display time>\t<label>\t<confidence%>
//
// Timestamps and confidences keep full precision so a parsed transcript
// reproduces the in-memory buffer exactly. Tabs and newlines inside a label
// are flattened to spaces to keep the line format intact.
const transcriptHeader = "# caption transcript"

var labelSanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// Export serializes the history snapshot to a plain-text transcript. Pure
// read: the buffer is untouched.
func Export(sid domain.SessionID, captions []domain.Caption, exportedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s session=%s exported=%s count=%d\n",
		transcriptHeader, sid, exportedAt.Format(time.RFC3339Nano), len(captions))
	for _, c := range captions {
		fmt.Fprintf(&b, "%s\t%s\t%s%%\n",
			c.DisplayedAt.Format(time.RFC3339Nano),
			labelSanitizer.Replace(c.Text),
			strconv.FormatFloat(c.Confidence*100, 'g', -1, 64))
	}
	return b.String()
}

// TranscriptLine is one parsed caption row.
type TranscriptLine struct {
	DisplayedAt time.Time
	Label       string
	Confidence  float64
}

// ParseTranscript reads an exported transcript back into ordered rows.
func ParseTranscript(s string) ([]TranscriptLine, error) {
	sc := bufio.NewScanner(strings.NewReader(s))
	if !sc.Scan() {
		return nil, fmt.Errorf("transcript: empty input")
	}
	if !strings.HasPrefix(sc.Text(), transcriptHeader) {
		return nil, fmt.Errorf("transcript: missing header")
	}
	var out []TranscriptLine
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			return nil, fmt.Errorf("transcript: malformed line %q", line)
		}
		ts, err := time.Parse(time.RFC3339Nano, parts[0])
		if err != nil {
			return nil, fmt.Errorf("transcript: bad timestamp %q: %w", parts[0], err)
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(parts[2], "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("transcript: bad confidence %q: %w", parts[2], err)
		}
		out = append(out, TranscriptLine{
			DisplayedAt: ts,
			Label:       parts[1],
			Confidence:  pct / 100,
		})
	}
	return out, sc.Err()
}
