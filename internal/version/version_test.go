package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/linnemanlabs-newsletter/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	v.VCSDirty = nil
	info := v.Get()
	if info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	v.VCSDirty = &trueVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != false {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestGet_LinkerValuesWin(t *testing.T) {
	oldV, oldC := v.Version, v.Commit
	t.Cleanup(func() { v.Version, v.Commit = oldV, oldC })

	v.Version = "1.4.0"
	v.Commit = "0123456789abcdef"
	info := v.Get()
	if info.Version != "1.4.0" || info.Commit != "0123456789abcdef" {
		t.Fatalf("info = %+v", info)
	}
	if info.GoVersion == "" {
		t.Fatal("GoVersion should come from build info")
	}
}

func TestInfo_String(t *testing.T) {
	dirty := true
	s := v.Info{Version: "1.4.0", Commit: "0123456789abcdef", VCSDirty: &dirty}.String()
	if !strings.HasPrefix(s, v.AppName+" 1.4.0 (0123456789ab)") {
		t.Fatalf("String() = %q", s)
	}
	if !strings.HasSuffix(s, "dirty") {
		t.Fatalf("String() = %q, want dirty suffix", s)
	}

	clean := v.Info{Version: "dev", Commit: "none"}.String()
	if clean != v.AppName+" dev (none)" {
		t.Fatalf("String() = %q", clean)
	}
}
