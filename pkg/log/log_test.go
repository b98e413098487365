// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %v, expected: %v", i, l, expected[i])
		}
	}
}

func TestCaller(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: &buf}}}
	l.Infof("hello %d", 42)
	got := buf.String()
	if !strings.HasPrefix(got, "I") {
		t.Errorf("line %q does not start with the info level", got)
	}
	if !strings.Contains(got, "log_test.go:") {
		t.Errorf("line %q does not name the calling file", got)
	}
	if !strings.HasSuffix(got, "] hello 42\n") {
		t.Errorf("line %q does not end with the message", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("dropped")
	l.Infof("kept")
	l.Warningf("kept")
	if len(tw.lines) != 2 {
		t.Fatalf("got lines %v, want 2 lines", tw.lines)
	}
	l.SetLevel(Debug)
	l.Debugf("now kept")
	if len(tw.lines) != 3 {
		t.Fatalf("got lines %v, want 3 lines", tw.lines)
	}
}

func TestRateLimited(t *testing.T) {
	tw := &testWriter{}
	base := &BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(base, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("warning %d", i)
	}
	if len(tw.lines) != 1 {
		t.Errorf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
}

func TestLogrusEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: NewLogrusEmitter(&buf)}
	l.Warningf("out of %s", "pages")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("logrus output %q is not JSON: %v", buf.String(), err)
	}
	if got, want := rec["level"], "warning"; got != want {
		t.Errorf("level: got %v, want %v", got, want)
	}
	if msg, _ := rec["msg"].(string); !strings.HasSuffix(msg, "] out of pages") {
		t.Errorf("msg: got %q", msg)
	}
}

func TestNewEmitter(t *testing.T) {
	for _, format := range []string{"text", "json", "json-k8s", "logrus"} {
		if _, err := NewEmitter(format, &bytes.Buffer{}); err != nil {
			t.Errorf("NewEmitter(%q): %v", format, err)
		}
	}
	if _, err := NewEmitter("xml", &bytes.Buffer{}); err == nil {
		t.Errorf("NewEmitter(xml) succeeded, want error")
	}
}
