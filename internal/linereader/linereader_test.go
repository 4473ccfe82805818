package linereader

import (
	"bufio"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func collect(r *Reader) []string {
	var out []string
	for {
		line, ok := r.Next()
		if !ok {
			return out
		}
		out = append(out, line)
	}
}

func TestLines(t *testing.T) {
	cases := []struct {
		in       string
		want     []string
		testName string
	}{
		{"", nil, "empty"},
		{"a\nb\n", []string{"a", "b"}, "trailing newline"},
		{"a\r\nb", []string{"a", "b"}, "crlf and no trailing newline"},
		{"a\n\n\nb\n", []string{"a", "", "", "b"}, "blank lines kept"},
		{"\xEF\xBB\xBFwhitelist_add 1.2.3.4\n", []string{"whitelist_add 1.2.3.4"}, "bom stripped"},
		{"x\n\xEF\xBB\xBFy\n", []string{"x", "\xEF\xBB\xBFy"}, "bom only stripped at start"},
	}

	for _, tc := range cases {
		t.Run(tc.testName, func(t *testing.T) {
			r := New(strings.NewReader(tc.in))
			got := collect(r)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("lines = %q, want %q", got, tc.want)
			}
			if err := r.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
		})
	}
}

func TestLineTooLong(t *testing.T) {
	r := New(strings.NewReader(strings.Repeat("x", MaxLineSize+10) + "\n"))
	collect(r)
	if !errors.Is(r.Err(), bufio.ErrTooLong) {
		t.Fatalf("Err() = %v, want bufio.ErrTooLong", r.Err())
	}
}
