package acquire

import (
	"encoding/json"
	"strings"
)

// ProcessedField is the status flag added to every record.
const ProcessedField = "processed"

// Record is one decoded device object. Field values are kept as received.
// A nil Record means no data.
type Record map[string]json.RawMessage

// Processed reports the record's processed-status flag.
func (r Record) Processed() bool {
	var v bool
	if raw, ok := r[ProcessedField]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// Encode returns the record as a JSON object.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage(r))
}

// NoDataMarker is the encoded value emitted when there is no record.
func NoDataMarker() []byte {
	return []byte(`{"processed":false}`)
}

func decodeRecord(line string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Record{}
	}
	rec[ProcessedField] = json.RawMessage("false")
	return rec, nil
}

// sanitizeLine drops invalid UTF-8 and surrounding whitespace (including
// the CR of CRLF framing).
func sanitizeLine(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}

func isJSONObject(line string) bool {
	return strings.HasPrefix(line, "{") && json.Valid([]byte(line))
}
