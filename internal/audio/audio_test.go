package audio

import (
	"path/filepath"
	"testing"

	"github.com/axelmiami/callbridge/internal/config"
)

func TestOutputPathDerivesYearMonthDay(t *testing.T) {
	p := New(config.Records{Mp3Dir: "/mp3", EncodedExt: "mp3"})
	raw := filepath.Join("/raw", "2026", "07", "29", "1753999999.1.wav")

	got, err := p.outputPath(raw)
	if err != nil {
		t.Fatalf("outputPath: %v", err)
	}
	want := filepath.Join("/mp3", "2026", "07", "29", "1753999999.1.mp3")
	if got != want {
		t.Errorf("outputPath(%q) = %q, want %q", raw, got, want)
	}
}

func TestOutputPathDefaultsExtensionWhenUnconfigured(t *testing.T) {
	p := New(config.Records{Mp3Dir: "/mp3"})
	raw := filepath.Join("/raw", "2026", "07", "29", "call.wav")

	got, err := p.outputPath(raw)
	if err != nil {
		t.Fatalf("outputPath: %v", err)
	}
	if filepath.Ext(got) != ".mp3" {
		t.Errorf("outputPath(%q) = %q, want .mp3 extension by default", raw, got)
	}
}

func TestOutputPathRejectsShallowLayout(t *testing.T) {
	p := New(config.Records{Mp3Dir: "/mp3", EncodedExt: "mp3"})

	if _, err := p.outputPath("call.wav"); err == nil {
		t.Fatal("outputPath: expected error for a path with no year/month/day parents")
	}
}

func TestEncodeReturnsEmptyForMissingRawPath(t *testing.T) {
	p := New(config.Records{Mp3Dir: t.TempDir(), EncodedExt: "mp3"})

	out, err := p.Encode("")
	if err != nil || out != "" {
		t.Fatalf("Encode(\"\") = (%q, %v), want (\"\", nil)", out, err)
	}

	out, err = p.Encode(filepath.Join(t.TempDir(), "2026", "07", "29", "missing.wav"))
	if err != nil || out != "" {
		t.Fatalf("Encode(missing file) = (%q, %v), want (\"\", nil)", out, err)
	}
}
