package meta

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteRequest(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "basic get",
			req:      NewRequest(CmdGet, "mykey", nil, nil),
			expected: "mg mykey\r\n",
		},
		{
			name:     "get with value flag",
			req:      NewRequest(CmdGet, "mykey", nil, []Flag{{Type: FlagReturnValue}}),
			expected: "mg mykey v\r\n",
		},
		{
			name: "get with multiple flags",
			req: NewRequest(CmdGet, "mykey", nil, []Flag{
				{Type: FlagReturnValue},
				{Type: FlagReturnCAS},
				{Type: FlagReturnTTL},
			}),
			expected: "mg mykey v c t\r\n",
		},
		{
			name:     "get with opaque token",
			req:      NewRequest(CmdGet, "mykey", nil, []Flag{{Type: FlagReturnValue}, {Type: FlagOpaque, Token: "mytoken"}}),
			expected: "mg mykey v Omytoken\r\n",
		},
		{
			name:     "get with recache threshold",
			req:      NewRequest(CmdGet, "mykey", nil, []Flag{{Type: FlagReturnValue}, {Type: FlagRecache, Token: "30"}}),
			expected: "mg mykey v R30\r\n",
		},
		{
			name:     "set with ttl",
			req:      NewRequest(CmdSet, "mykey", []byte("bar"), []Flag{{Type: FlagTTL, Token: "60"}}),
			expected: "ms mykey 3 T60\r\nbar\r\n",
		},
		{
			name:     "set empty value",
			req:      NewRequest(CmdSet, "mykey", nil, []Flag{{Type: FlagMode, Token: ModeAdd}}),
			expected: "ms mykey 0 ME\r\n\r\n",
		},
		{
			name:     "delete with invalidate",
			req:      NewRequest(CmdDelete, "mykey", nil, []Flag{{Type: FlagInvalidate}, {Type: FlagTTL, Token: "30"}}),
			expected: "md mykey I T30\r\n",
		},
		{
			name:     "arithmetic increment",
			req:      NewRequest(CmdArithmetic, "counter", nil, []Flag{{Type: FlagReturnValue}, {Type: FlagDelta, Token: "5"}}),
			expected: "ma counter v D5\r\n",
		},
		{
			name:     "noop",
			req:      NewRequest(CmdNoOp, "", nil, nil),
			expected: "mn\r\n",
		},
		{
			name:     "base64 binary key",
			req:      NewRequest(CmdSet, "8J+Nqg==", []byte("1"), []Flag{{Type: FlagTTL, Token: "60"}, {Type: FlagBase64Key}}),
			expected: "ms 8J+Nqg== 1 T60 b\r\n1\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteRequest(&buf, tt.req); err != nil {
				t.Fatalf("WriteRequest: %v", err)
			}
			if got := buf.String(); got != tt.expected {
				t.Fatalf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWriteRequestDoesNotFlushBufferedWriter(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	req1 := NewRequest(CmdGet, "a", nil, []Flag{{Type: FlagReturnValue}, {Type: FlagQuiet}})
	req2 := NewRequest(CmdGet, "b", nil, []Flag{{Type: FlagReturnValue}})

	if err := WriteRequest(bw, req1); err != nil {
		t.Fatal(err)
	}
	if err := WriteRequest(bw, req2); err != nil {
		t.Fatal(err)
	}
	// nothing written to the underlying buffer until Flush: caller controls
	// when the batch hits the wire.
	if buf.Len() != 0 {
		t.Fatalf("expected 0 bytes before Flush, got %d", buf.Len())
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	if want := "mg a v q\r\nmg b v\r\n"; buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteRequestInvalidKey(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"empty key", NewRequest(CmdGet, "", nil, nil)},
		{"key with space", NewRequest(CmdGet, "has space", nil, nil)},
		{"key too long", NewRequest(CmdGet, strings.Repeat("x", MaxKeyLength+1), nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteRequest(&buf, tt.req); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestWriteRequestBase64KeyAllowsWhitespace(t *testing.T) {
	req := NewRequest(CmdGet, "has space==", nil, []Flag{{Type: FlagBase64Key}})
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReadResponseHD(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("HD\r\n"))
	resp, err := ReadResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusHD || !resp.IsSuccess() {
		t.Fatalf("got %+v", resp)
	}
}

func TestReadResponseVA(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("VA 3 c42 t60\r\nbar\r\n"))
	resp, err := ReadResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusVA || !resp.HasValue() {
		t.Fatalf("got %+v", resp)
	}
	if string(resp.Data) != "bar" {
		t.Fatalf("data = %q", resp.Data)
	}
	if cas, ok := resp.GetFlagUint64(FlagReturnCAS); !ok || cas != 42 {
		t.Fatalf("cas = %d, %v", cas, ok)
	}
	if ttl, ok := resp.GetFlagInt(FlagReturnTTL); !ok || ttl != 60 {
		t.Fatalf("ttl = %d, %v", ttl, ok)
	}
}

func TestReadResponseMiss(t *testing.T) {
	for _, line := range []string{"EN\r\n", "NF\r\n"} {
		r := bufio.NewReader(strings.NewReader(line))
		resp, err := ReadResponse(r)
		if err != nil {
			t.Fatal(err)
		}
		if !resp.IsMiss() {
			t.Fatalf("%q: expected miss, got %+v", line, resp)
		}
	}
}

func TestReadResponseWinLoseStale(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("VA 0 W c7\r\n\r\n"))
	resp, err := ReadResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasWinFlag() {
		t.Fatal("expected win flag")
	}

	r = bufio.NewReader(strings.NewReader("VA 3 X\r\nold\r\n"))
	resp, err = ReadResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasStaleFlag() {
		t.Fatal("expected stale flag")
	}

	r = bufio.NewReader(strings.NewReader("VA 0 Z\r\n\r\n"))
	resp, err = ReadResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasAlreadyWonFlag() {
		t.Fatal("expected already-won flag")
	}
}

func TestReadResponseErrors(t *testing.T) {
	tests := []struct {
		line        string
		shouldClose bool
	}{
		{"CLIENT_ERROR bad data chunk\r\n", true},
		{"SERVER_ERROR out of memory\r\n", false},
		{"ERROR\r\n", true},
	}
	for _, tt := range tests {
		r := bufio.NewReader(strings.NewReader(tt.line))
		resp, err := ReadResponse(r)
		if err != nil {
			t.Fatalf("%q: unexpected go error %v", tt.line, err)
		}
		if !resp.HasError() {
			t.Fatalf("%q: expected Response.Error to be set", tt.line)
		}
		if ShouldCloseConnection(resp.Error) != tt.shouldClose {
			t.Fatalf("%q: ShouldCloseConnection = %v, want %v", tt.line, ShouldCloseConnection(resp.Error), tt.shouldClose)
		}
	}
}

func TestReadResponseBatchUntilNoOp(t *testing.T) {
	raw := "HD\r\n" + "EN\r\n" + "VA 2\r\nok\r\n" + "MN\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	resps, err := ReadResponseBatch(r, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 4 {
		t.Fatalf("got %d responses, want 4", len(resps))
	}
	if resps[3].Status != StatusMN {
		t.Fatalf("last response should be MN marker, got %s", resps[3].Status)
	}
}

func TestReadResponseBatchByCount(t *testing.T) {
	raw := "HD\r\n" + "EN\r\n" + "NS\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	resps, err := ReadResponseBatch(r, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}
}

func TestParseDebugParams(t *testing.T) {
	params := ParseDebugParams([]byte("size=1024 ttl=3600 flags=0 malformed"))
	if params["size"] != "1024" || params["ttl"] != "3600" || params["flags"] != "0" {
		t.Fatalf("got %+v", params)
	}
	if _, ok := params["malformed"]; ok {
		t.Fatal("malformed token without '=' should be skipped")
	}
}
