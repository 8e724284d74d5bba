package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ordered(t *testing.T) {
	files, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_streak_records.up.sql", "002_streak_journal.up.sql"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %s, want %s", i, files[i], want[i])
		}
	}

	data, err := fs.ReadFile(FS, "002_streak_journal.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "'genesis'") {
		t.Error("journal migration must insert the genesis row")
	}
}
