package ipc

import (
	"strings"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{
		TopicName:   "notify.user",
		PayloadJSON: `{"hello":"world"}`,
		Priority:    2,
		Timestamp:   1700000000,
		Source:      "ipcdispatcher",
	}

	buf, err := rec.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(buf) != RecordSize {
		t.Fatalf("expected %d bytes, got %d", RecordSize, len(buf))
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != rec {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestRecordFieldsAreNULPadded(t *testing.T) {
	rec := Record{TopicName: "x", PayloadJSON: "{}", Source: "s"}
	buf, err := rec.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	topicField := buf[:topicNameSize]
	if topicField[1] != 0 {
		t.Fatalf("expected topic_name to be NUL-padded after the literal bytes")
	}
	if strings.TrimRight(string(topicField), "\x00") != "x" {
		t.Fatalf("unexpected topic_name content: %q", topicField)
	}
}

func TestMarshalRejectsOversizeFields(t *testing.T) {
	rec := Record{TopicName: strings.Repeat("a", topicNameSize+1)}
	if _, err := rec.Marshal(); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	if _, err := Unmarshal(make([]byte, RecordSize-1)); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
