package wire

import (
	"encoding/json"
	"testing"
)

func TestFrameOmitsUnusedFields(t *testing.T) {
	raw, err := json.Marshal(Frame{Event: EventCreateRoom, DocumentID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"event":"create-room","documentId":"f1"}` {
		t.Errorf("frame json = %s", raw)
	}
}
