package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsToLight(t *testing.T) {
	s := NewStore("")
	if got := s.Theme(); got != ThemeLight {
		t.Errorf("Theme = %q, want light", got)
	}
}

func TestSetThemePersists(t *testing.T) {
	dir, err := os.MkdirTemp("", "prefs-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "pulse-prefs.json")

	s := NewStore(file)
	if err := s.SetTheme(ThemeDark); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}

	reloaded := NewStore(file)
	if got := reloaded.Theme(); got != ThemeDark {
		t.Errorf("Theme after reload = %q, want dark", got)
	}
}

func TestSetThemeBackAndForth(t *testing.T) {
	dir, err := os.MkdirTemp("", "prefs-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "pulse-prefs.json")

	s := NewStore(file)
	if err := s.SetTheme(ThemeDark); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if got := NewStore(file).Theme(); got != ThemeDark {
		t.Errorf("persisted theme = %q, want dark", got)
	}

	if err := s.SetTheme(ThemeLight); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if got := NewStore(file).Theme(); got != ThemeLight {
		t.Errorf("persisted theme after switching back = %q, want light", got)
	}
}

func TestSetThemeCreatesDirectories(t *testing.T) {
	dir, err := os.MkdirTemp("", "prefs-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "nested", "deeper", "prefs.json")

	s := NewStore(file)
	if err := s.SetTheme(ThemeDark); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Errorf("prefs file missing: %v", err)
	}
}

func TestLoadToleratesBadFiles(t *testing.T) {
	dir, err := os.MkdirTemp("", "prefs-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cases := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"unknown theme", `{"theme":"sepia"}`},
		{"empty object", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file := filepath.Join(dir, tc.name+".json")
			if err := os.WriteFile(file, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			s := NewStore(file)
			if got := s.Theme(); got != ThemeLight {
				t.Errorf("Theme = %q, want the light default", got)
			}
		})
	}
}

func TestParseTheme(t *testing.T) {
	cases := []struct {
		in      string
		want    Theme
		wantErr bool
	}{
		{"light", ThemeLight, false},
		{"dark", ThemeDark, false},
		{" Dark ", ThemeDark, false},
		{"LIGHT", ThemeLight, false},
		{"sepia", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseTheme(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTheme(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTheme(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMemoryOnlyStore(t *testing.T) {
	s := NewStore("")
	if err := s.SetTheme(ThemeDark); err != nil {
		t.Fatalf("SetTheme on memory-only store: %v", err)
	}
	if got := s.Theme(); got != ThemeDark {
		t.Errorf("Theme = %q, want dark", got)
	}
}
