package persistence

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
)

func TestWriteDataFile(t *testing.T) {
	dir := t.TempDir()
	report := map[string]interface{}{
		"measurement_id": "mid-123",
		"complete":       true,
	}

	df, err := WriteDataFile(dir, "report", "mid-123", report)
	if err != nil {
		t.Fatalf("WriteDataFile() error: %v", err)
	}

	wantDir := path.Join(dir, "report", time.Now().Format("2006/01/02"))
	if !strings.HasPrefix(df.Path, wantDir) {
		t.Errorf("file not under the date directory: %s", df.Path)
	}
	if !strings.HasSuffix(df.Path, ".mid-123.json.gz") {
		t.Errorf("wrong file suffix: %s", df.Path)
	}

	fp, err := os.Open(df.Path)
	testingx.Must(t, err, "open written file")
	defer fp.Close()
	gz, err := gzip.NewReader(fp)
	testingx.Must(t, err, "gzip reader")
	data, err := io.ReadAll(gz)
	testingx.Must(t, err, "read payload")
	if len(data) != df.Size {
		t.Errorf("wrong reported size: got %d, want %d", df.Size, len(data))
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if got["measurement_id"] != "mid-123" || got["complete"] != true {
		t.Errorf("payload does not round-trip: %v", got)
	}
}

func TestWriteDataFile_BadDir(t *testing.T) {
	if _, err := WriteDataFile("/proc/does-not-exist", "report", "mid", struct{}{}); err == nil {
		t.Error("expected an error for an unwritable directory")
	}
}
