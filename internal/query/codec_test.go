package query

import "testing"

func TestDecodeRoundTripsSupportedTable(t *testing.T) {
	for _, c := range " ,.-_:?=/%" {
		seq, ok := Encode(c)
		if !ok {
			t.Fatalf("Encode(%q) not supported", c)
		}
		if got := Decode(seq); got != string(c) {
			t.Errorf("Decode(%q) = %q, want %q", seq, got, string(c))
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Hello+World", "Hello World"},
		{"a%2Cb", "a,b"},
		{"10%3A30%20ok", "10:30 ok"},
		{"%41%42", "%41%42"}, // outside the table
		{"%2c", "%2c"},       // lower-case hex is not decoded
		{"%252C", "%2C"},     // %25 is decoded last
		{"50%25+off", "50% off"},
		{"x%3Dy%2Fz%3F", "x=y/z?"},
	}
	for _, tt := range tests {
		if got := Decode(tt.in); got != tt.want {
			t.Errorf("Decode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, ok := Encode('a'); ok {
		t.Error("Encode('a') should not be supported")
	}
	if _, ok := Encode('&'); ok {
		t.Error("Encode('&') should not be supported")
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		path, key, want string
	}{
		{"/lcd/text?line=1&msg=a%2Cb", "msg", "a%2Cb"},
		{"/lcd/text?line=1&msg=a%2Cb", "line", "1"},
		{"/lcd/text", "line", ""},
		{"/lcd/text?", "line", ""},
		{"/lcd/text?msg=first&msg=second", "msg", "first"},
		{"/lcd/text?flag&line=0", "flag", ""},
		{"/lcd/text?flag&line=0", "line", "0"},
		{"/lcd/text?msg=a=b", "msg", "a=b"},
		{"/lcd/text?linex=1", "line", ""},
		{"/x?a=1?b=2", "a", "1?b=2"},
	}
	for _, tt := range tests {
		if got := Value(tt.path, tt.key); got != tt.want {
			t.Errorf("Value(%q, %q) = %q, want %q", tt.path, tt.key, got, tt.want)
		}
	}
}

func TestValueDecodedExample(t *testing.T) {
	if got := Decode(Value("/lcd/text?line=1&msg=a%2Cb", "msg")); got != "a,b" {
		t.Errorf("got %q, want %q", got, "a,b")
	}
}

func TestParseKeepsFirstOccurrence(t *testing.T) {
	got := Parse("/lcd/text?line=1&msg=hi&line=0&bare")
	if len(got) != 2 {
		t.Fatalf("Parse returned %d keys, want 2: %v", len(got), got)
	}
	if got["line"] != "1" || got["msg"] != "hi" {
		t.Errorf("Parse = %v", got)
	}
	if len(Parse("/")) != 0 {
		t.Error("Parse without query string should be empty")
	}
}
