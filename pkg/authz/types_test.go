package authz

import "testing"

func TestLevelOrdering(t *testing.T) {
	if !(LevelNone < LevelView && LevelView < LevelDownload &&
		LevelDownload < LevelEdit && LevelEdit < LevelManage) {
		t.Error("levels must be strictly ordered none < view < download < edit < manage")
	}
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelNone, LevelView, LevelDownload, LevelEdit, LevelManage} {
		parsed, err := ParseLevel(level.String())
		if err != nil {
			t.Fatalf("ParseLevel(%q) failed: %v", level.String(), err)
		}
		if parsed != level {
			t.Errorf("ParseLevel(%q) = %v, want %v", level.String(), parsed, level)
		}
	}

	if _, err := ParseLevel("superuser"); err == nil {
		t.Error("expected error for unknown level name")
	}
}

func TestOperationRequiredLevel(t *testing.T) {
	tests := []struct {
		op   Operation
		want Level
	}{
		{OpView, LevelView},
		{OpDownload, LevelDownload},
		{OpEdit, LevelEdit},
		{OpManage, LevelManage},
	}
	for _, tt := range tests {
		got, err := tt.op.RequiredLevel()
		if err != nil {
			t.Fatalf("RequiredLevel(%s) failed: %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("RequiredLevel(%s) = %v, want %v", tt.op, got, tt.want)
		}
	}

	if _, err := Operation("delete").RequiredLevel(); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestDownloadImpliesView(t *testing.T) {
	// A subject holding download must pass a view check
	required, _ := OpView.RequiredLevel()
	if LevelDownload < required {
		t.Error("download level must satisfy a view requirement")
	}
}
