package pubsub

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	raw, err := json.Marshal(Event{Topic: "tag:go", At: time.Now()})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	topic, err := Decode(string(raw))
	if err != nil || topic != "tag:go" {
		t.Fatalf("ожидали tag:go, получили %q %v", topic, err)
	}
	for _, bad := range []string{"", "{}", "not json", `{"topic":""}`} {
		if _, err := Decode(bad); err == nil {
			t.Fatalf("ожидали ошибку для %q", bad)
		}
	}
}
