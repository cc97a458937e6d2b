package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/wyh-tools/Course-Sentinel/internal/events"
)

// spyLogger records structured log calls.
type spyLogger struct {
	mu     sync.Mutex
	infos  []string
	errors [][]any
}

func (s *spyLogger) Info(msg string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, msg)
}

func (s *spyLogger) Error(msg string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, append([]any{msg}, args...))
}

// stubNotifier counts sends and optionally fails.
type stubNotifier struct {
	name  string
	err   error
	sends int
	last  events.Event
}

func (s *stubNotifier) Send(_ context.Context, e events.Event) error {
	s.sends++
	s.last = e
	return s.err
}

func (s *stubNotifier) Name() string { return s.name }

func grabEvent() events.Event {
	return events.Event{
		Kind:            events.KindGrabSuccess,
		TeachingClassID: "T1",
		CourseName:      "算法设计",
		Teacher:         "王老师",
		Remain:          1,
		Capacity:        40,
		Message:         "acquired 算法设计 (王老师)",
	}
}

func TestMultiDispatchesToAll(t *testing.T) {
	a := &stubNotifier{name: "a"}
	b := &stubNotifier{name: "b"}
	m := NewMulti(&spyLogger{}, a, b)

	if !m.Notify(context.Background(), grabEvent()) {
		t.Fatal("Notify() = false with healthy notifiers")
	}
	if a.sends != 1 || b.sends != 1 {
		t.Errorf("sends = %d/%d, want 1/1", a.sends, b.sends)
	}
	if a.last.CourseName != "算法设计" {
		t.Errorf("event not passed through: %+v", a.last)
	}
}

func TestMultiLogsFailuresWithoutPropagating(t *testing.T) {
	log := &spyLogger{}
	bad := &stubNotifier{name: "bad", err: errors.New("relay down")}
	good := &stubNotifier{name: "good"}
	m := NewMulti(log, bad, good)

	if !m.Notify(context.Background(), grabEvent()) {
		t.Fatal("Notify() = false although one notifier succeeded")
	}
	if len(log.errors) != 1 {
		t.Fatalf("error logs = %d, want 1", len(log.errors))
	}
}

func TestMultiAllFailed(t *testing.T) {
	log := &spyLogger{}
	m := NewMulti(log, &stubNotifier{name: "x", err: errors.New("down")})
	if m.Notify(context.Background(), grabEvent()) {
		t.Error("Notify() = true with every notifier failing")
	}
}

func TestMultiEmptyChainSucceeds(t *testing.T) {
	m := NewMulti(&spyLogger{})
	if !m.Notify(context.Background(), grabEvent()) {
		t.Error("empty chain must report success")
	}
}

func TestMultiReconfigure(t *testing.T) {
	old := &stubNotifier{name: "old"}
	m := NewMulti(&spyLogger{}, old)
	replacement := &stubNotifier{name: "new"}
	m.Reconfigure(replacement)

	m.Notify(context.Background(), grabEvent())
	if old.sends != 0 {
		t.Error("replaced notifier still received events")
	}
	if replacement.sends != 1 {
		t.Errorf("replacement sends = %d, want 1", replacement.sends)
	}
}

func TestFormatTitle(t *testing.T) {
	if got := formatTitle(events.KindGrabSuccess); got != "Sentinel: Grab Success" {
		t.Errorf("formatTitle = %q", got)
	}
	if got := formatTitle(events.KindAvailability); got != "Sentinel: Availability Detected" {
		t.Errorf("formatTitle = %q", got)
	}
}

func TestFormatMessageFields(t *testing.T) {
	e := grabEvent()
	e.SwappedOut = "数据结构"
	msg := formatMessage(e)
	for _, want := range []string{"Course: 算法设计", "Teacher: 王老师", "Class: T1", "Seats: 1/40", "Dropped: 数据结构"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestServerChanSend(t *testing.T) {
	var gotPath, gotTitle, gotNoip string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTitle = r.PostFormValue("title")
		gotNoip = r.PostFormValue("noip")
		if r.PostFormValue("desp") == "" {
			t.Error("empty desp body")
		}
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	sc := NewServerChan("SCT123KEY")
	sc.base = srv.URL

	if err := sc.Send(context.Background(), grabEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/SCT123KEY.send" {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotTitle) > titleLimit {
		t.Errorf("title length = %d, exceeds limit %d", len(gotTitle), titleLimit)
	}
	if gotNoip != "1" {
		t.Errorf("noip = %q, want 1", gotNoip)
	}
}

func TestServerChanNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sc := NewServerChan("key")
	sc.base = srv.URL
	if err := sc.Send(context.Background(), grabEvent()); err == nil {
		t.Error("Send() = nil on 429")
	}
}

func TestWebhookSendsJSONWithHeaders(t *testing.T) {
	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, map[string]string{"Authorization": "Bearer tok"})
	if err := wh.Send(context.Background(), grabEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if !strings.Contains(string(gotBody), `"算法设计"`) {
		t.Errorf("body missing course name: %s", gotBody)
	}
}

func TestLogNotifierRecordsEvent(t *testing.T) {
	log := &spyLogger{}
	ln := NewLogNotifier(log)
	if err := ln.Send(context.Background(), grabEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(log.infos) != 1 || log.infos[0] != "notification event" {
		t.Errorf("info logs = %v", log.infos)
	}
}
