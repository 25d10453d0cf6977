package log

import (
	"bytes"
	"os"
	"testing"
)

func TestErrorMsg(t *testing.T) {
	// Capture stderr
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	ErrorMsg("test error: %s", "something")

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	output := buf.String()

	if output == "" {
		t.Error("ErrorMsg() produced no output")
	}
	if !bytes.Contains([]byte(output), []byte("test error")) {
		t.Errorf("ErrorMsg() output does not contain expected text: %q", output)
	}
}

func TestInfoMsg(t *testing.T) {
	// Capture stderr
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	InfoMsg("test info: %s", "something")

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	output := buf.String()

	if output == "" {
		t.Error("InfoMsg() produced no output")
	}
	if !bytes.Contains([]byte(output), []byte("test info")) {
		t.Errorf("InfoMsg() output does not contain expected text: %q", output)
	}
}

func captureStderr(fn func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestDebugMsg(t *testing.T) {
	SetVerbose(false)
	if out := captureStderr(func() { DebugMsg("hidden %d", 1) }); out != "" {
		t.Errorf("DebugMsg() without verbose printed %q", out)
	}

	SetVerbose(true)
	defer SetVerbose(false)
	out := captureStderr(func() { DebugMsg("shown %d", 2) })
	if !bytes.Contains([]byte(out), []byte("shown 2")) {
		t.Errorf("DebugMsg() output does not contain expected text: %q", out)
	}
}

func TestDebugMsg_Limiter(t *testing.T) {
	SetVerbose(true)
	SetLimiter(2)
	defer func() {
		SetVerbose(false)
		SetLimiter(DefaultLimit)
	}()

	out := captureStderr(func() {
		for i := 0; i < 5; i++ {
			DebugMsg("flood %d\n", i)
		}
		DebugMsg("other\n")
	})

	if got := bytes.Count([]byte(out), []byte("flood")); got != 2 {
		t.Errorf("limited message printed %d times, want 2", got)
	}
	if !bytes.Contains([]byte(out), []byte("other")) {
		t.Errorf("distinct message suppressed: %q", out)
	}
}

func TestDebugMsg_DefaultLimit(t *testing.T) {
	if got := Limit(); got != DefaultLimit {
		t.Fatalf("Limit() = %d, want %d", got, DefaultLimit)
	}

	SetVerbose(true)
	defer SetVerbose(false)

	out := captureStderr(func() {
		for i := 0; i < 3*DefaultLimit; i++ {
			DebugMsg("dropping datagram from %s: flood %d\n", "198.51.100.7:9", i)
		}
	})

	if got := bytes.Count([]byte(out), []byte("dropping datagram")); got != DefaultLimit {
		t.Errorf("flooded message printed %d times, want %d", got, DefaultLimit)
	}
	if counter.Len() == 0 {
		t.Error("limiter did not count the flooded message")
	}
}
