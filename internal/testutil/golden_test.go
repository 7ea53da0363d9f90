package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAssertGolden(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile("testdata/frame.golden", []byte("00ff\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	AssertGolden(t, "00ff\n", "frame.golden")
	AssertGoldenHex(t, []byte{0x00, 0xff}, "frame.golden")
}

func TestHexLines(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "empty", in: nil, want: ""},
		{name: "short", in: []byte{1, 2}, want: "0102\n"},
		{
			name: "wraps at sixteen",
			in:   []byte("0123456789abcdefXY"),
			want: "30313233343536373839616263646566\n5859\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HexLines(tt.in); got != tt.want {
				t.Errorf("HexLines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGoldenPath(t *testing.T) {
	got := GoldenPath("test.golden")

	want := filepath.Join("testdata", "test.golden")
	if got != want {
		t.Errorf("GoldenPath() = %q, want %q", got, want)
	}
}
