package stream

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// polls until the condition holds or the timeout elapses
func waitFor(timeout time.Duration, condition func() bool) bool {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// one inbound wire unit: payload is a JSON-encoded string
func wireFrame(event string, payload any) []byte {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	frame, err := json.Marshal(map[string]string{
		"event":   event,
		"payload": string(payloadBytes),
	})
	if err != nil {
		panic(err)
	}
	return frame
}

func testNotification(id string, kind NotificationKind) *NotificationRecord {
	return &NotificationRecord{
		Id:        id,
		Kind:      kind,
		CreatedAt: time.Now(),
		Account: &Account{
			Id:   fmt.Sprintf("acct-%s", id),
			Acct: fmt.Sprintf("user%s@example.social", id),
		},
	}
}

func testStatus(id string) *Status {
	return &Status{
		Id: id,
		Account: &Account{
			Id:   fmt.Sprintf("acct-%s", id),
			Acct: fmt.Sprintf("user%s@example.social", id),
		},
		Content:   fmt.Sprintf("status %s", id),
		CreatedAt: time.Now(),
	}
}
