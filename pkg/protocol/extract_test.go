package protocol

import (
	"bytes"
	"testing"
)

func mustFrame(t *testing.T, p Payload) []byte {
	t.Helper()
	f, err := Encode(1, 19301, p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return f
}

// drain calls ExtractMessage until it stops making progress.
func drain(buf []byte) (msgs []string, rest []byte) {
	for {
		msg, next := ExtractMessage(buf)
		progressed := len(next) < len(buf)
		buf = next
		if msg != nil {
			msgs = append(msgs, string(msg))
			continue
		}
		if !progressed {
			return msgs, buf
		}
	}
}

func TestExtractMessage_Framed(t *testing.T) {
	frame := mustFrame(t, Payload{"x": 1.0})

	msg, rest := ExtractMessage(frame)
	if string(msg) != `{"x":1}` {
		t.Errorf("msg = %q", msg)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q, want empty", rest)
	}
}

func TestExtractMessage_PartialFrameWaits(t *testing.T) {
	frame := mustFrame(t, Payload{"battery_level": 0.5})

	for _, cut := range []int{1, HeaderSize - 1, HeaderSize, len(frame) - 1} {
		msg, rest := ExtractMessage(frame[:cut])
		if msg != nil {
			t.Errorf("cut %d: got message %q before frame complete", cut, msg)
		}
		if !bytes.Equal(rest, frame[:cut]) {
			t.Errorf("cut %d: buffer changed while waiting", cut)
		}
	}
}

func TestExtractMessage_SkipsGarbageBeforeMagic(t *testing.T) {
	frame := mustFrame(t, Payload{"a": "b"})
	buf := append([]byte("\x01\x02junk"), frame...)

	msg, rest := ExtractMessage(buf)
	if string(msg) != `{"a":"b"}` {
		t.Errorf("msg = %q", msg)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q", rest)
	}
}

func TestExtractMessage_EmptyFrameConsumed(t *testing.T) {
	empty := mustFrame(t, nil)
	next := mustFrame(t, Payload{"k": 2.0})
	buf := append(append([]byte{}, empty...), next...)

	msgs, rest := drain(buf)
	if len(msgs) != 1 || msgs[0] != `{"k":2}` {
		t.Errorf("msgs = %q", msgs)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q", rest)
	}
}

func TestExtractMessage_FalseMagic(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		wantMsgs []string
		wantRest string
	}{
		{
			name:     "wrong version",
			in:       []byte("Zzzzzzzzzzzzzzzzzzzz"),
			wantRest: "Zzzzzzzzzzzzzzzzzzzz",
		},
		{
			name:     "oversized length",
			in:       append([]byte("Z\x01\x00\x01\x7f\xff\xff\xff\x00\x00\x00\x00\x00\x00\x00\x00"), `{"a":1}`...),
			wantMsgs: []string{`{"a":1}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, rest := drain(tt.in)
			if len(msgs) != len(tt.wantMsgs) {
				t.Fatalf("msgs = %q, want %q", msgs, tt.wantMsgs)
			}
			for i := range msgs {
				if msgs[i] != tt.wantMsgs[i] {
					t.Errorf("msg[%d] = %q, want %q", i, msgs[i], tt.wantMsgs[i])
				}
			}
			if string(rest) != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

func TestExtractMessage_BraceBeforeFrame(t *testing.T) {
	buf := []byte("{")
	buf = append(buf, mustFrame(t, Payload{"a": "b"})...)
	buf = append(buf, mustFrame(t, Payload{"c": 1.0})...)

	msgs, rest := drain(buf)
	want := []string{`{"a":"b"}`, `{"c":1}`}
	if len(msgs) != len(want) {
		t.Fatalf("msgs = %q, want %q", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msg[%d] = %q, want %q", i, msgs[i], want[i])
		}
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q", rest)
	}
}

func TestExtractMessage_Unframed(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantMsgs []string
		wantRest string
	}{
		{
			name:     "newline delimited",
			in:       "{\"a\":1}\n{\"b\":2}\n",
			wantMsgs: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:     "line without brace discarded",
			in:       "hello\n{\"a\":1}\n",
			wantMsgs: []string{`{"a":1}`},
		},
		{
			name:     "brace balanced without delimiter",
			in:       `{"a":{"b":1}}{"c":2}`,
			wantMsgs: []string{`{"a":{"b":1}}`, `{"c":2}`},
		},
		{
			name:     "braces inside strings ignored",
			in:       `{"s":"}{\"}"}`,
			wantMsgs: []string{`{"s":"}{\"}"}`},
		},
		{
			name:     "leading junk before brace dropped",
			in:       `xx{"a":1}`,
			wantMsgs: []string{`{"a":1}`},
		},
		{
			name:     "incomplete object waits",
			in:       `{"a":{"b":1}`,
			wantRest: `{"a":{"b":1}`,
		},
		{
			name:     "nul delimited",
			in:       "noise\x00",
			wantRest: "",
		},
		{
			name:     "trailing carriage return",
			in:       "{\"a\":1}\r",
			wantMsgs: []string{`{"a":1}`},
		},
		{
			name:     "Z inside raw JSON is not a frame",
			in:       "{\"name\":\"Zed\"}\n",
			wantMsgs: []string{`{"name":"Zed"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, rest := drain([]byte(tt.in))
			if len(msgs) != len(tt.wantMsgs) {
				t.Fatalf("msgs = %q, want %q", msgs, tt.wantMsgs)
			}
			for i := range msgs {
				if msgs[i] != tt.wantMsgs[i] {
					t.Errorf("msg[%d] = %q, want %q", i, msgs[i], tt.wantMsgs[i])
				}
			}
			if string(rest) != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

func TestExtractMessage_MixedModes(t *testing.T) {
	framed := mustFrame(t, Payload{"mode": "framed"})
	buf := append([]byte("{\"mode\":\"raw\"}\n"), framed...)
	buf = append(buf, []byte("{\"mode\":\"raw2\"}")...)

	msgs, rest := drain(buf)
	want := []string{`{"mode":"raw"}`, `{"mode":"framed"}`, `{"mode":"raw2"}`}
	if len(msgs) != len(want) {
		t.Fatalf("msgs = %q, want %q", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msg[%d] = %q, want %q", i, msgs[i], want[i])
		}
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q", rest)
	}
}

func TestExtractMessage_Empty(t *testing.T) {
	msg, rest := ExtractMessage(nil)
	if msg != nil || len(rest) != 0 {
		t.Errorf("got (%q, %q)", msg, rest)
	}
}
