package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liao/cinema-bot/internal/catalog"
	"github.com/liao/cinema-bot/internal/history"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `llm:
  provider: together
  api_key: test-key
catalog:
  path: ` + filepath.Join(dir, "films.csv") + `
history:
  db_path: ` + filepath.Join(dir, "history.db") + `
log:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "top.csv")
	csvData := "movie,year,country,rating,overview,director,actors\n" +
		"Интерстеллар,2014,США,8.6,Путешествие через червоточину,Кристофер Нолан,\"Мэттью Макконахи, Энн Хэтэуэй\"\n"
	if err := os.WriteFile(input, []byte(csvData), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "films.json")

	if _, err := execute(t, "import", "--input", input, "--output", output); err != nil {
		t.Fatalf("import: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	var films []map[string]any
	if err := json.Unmarshal(data, &films); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(films) != 1 || films[0]["movie"] != "Интерстеллар" {
		t.Errorf("films = %v", films)
	}
}

func TestImportCommand_RequiresInput(t *testing.T) {
	if _, err := execute(t, "import"); err == nil {
		t.Fatal("expected error without --input")
	}
}

func TestImportCommand_EmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(input, []byte("movie,year\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "import", "--input", input); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

// closeErrWriter 写入成功但 Close 失败，模拟延迟到关闭时才暴露的写错误
type closeErrWriter struct {
	bytes.Buffer
	closeErr error
}

func (w *closeErrWriter) Close() error { return w.closeErr }

func TestWriteCatalog_CloseError(t *testing.T) {
	diskFull := errors.New("no space left on device")
	w := &closeErrWriter{closeErr: diskFull}
	err := writeCatalog(w, []catalog.Film{{Title: "Начало", Year: 2010}})
	if !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want close error", err)
	}
	if w.Len() == 0 {
		t.Error("expected catalog JSON to be written before close")
	}
}

func TestImportCommand_UnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "top.csv")
	if err := os.WriteFile(input, []byte("movie,year\nНачало,2010\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "missing", "films.json")
	if _, err := execute(t, "import", "--input", input, "--output", output); err == nil {
		t.Fatal("expected error for unwritable output")
	}
}

func TestHistoryAndClearCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := history.OpenSQLite(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	err = store.Append(context.Background(), history.Entry{
		UserID:    7,
		Query:     "фильмы Нолана",
		Answer:    "Интерстеллар",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	out, err := execute(t, "history", "--config", cfgPath, "--user", "7")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "фильмы Нолана") || !strings.Contains(out, ts.In(time.Local).Format(history.DisplayLayout)) {
		t.Errorf("history output = %q", out)
	}

	out, err = execute(t, "clear", "--config", cfgPath, "--user", "7")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "История очищена!") {
		t.Errorf("clear output = %q", out)
	}

	out, err = execute(t, "history", "--config", cfgPath, "--user", "7")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "История пуста.") {
		t.Errorf("history after clear = %q", out)
	}
}

func TestClearCommand_RequiresUser(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	if _, err := execute(t, "clear", "--config", cfgPath); err == nil {
		t.Fatal("expected error without --user")
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	if err := setupLogger(&buf, "warn"); err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	if err := setupLogger(&buf, "verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
