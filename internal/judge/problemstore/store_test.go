package problemstore

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"

	"codejudge/internal/common/storage"
	appErr "codejudge/pkg/errors"
)

func writeProblem(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestLoadOrdersCasesNaturally(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeProblem(t, dir, map[string]string{
		"problem.yaml":    "title: Sum\ndifficulty: 3\ntimeLimitMs: 2000\n",
		"input/1.in":      "1",
		"input/2.in":      "2",
		"input/10.in":     "10",
		"answers/1.out":   "1",
		"answers/2.out":   "2",
		"answers/10.out":  "10",
		"answers/readme":  "ignored",
		"input/notes.txt": "ignored",
	})
	p, err := Load(7, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Meta.Title != "Sum" || p.Meta.Difficulty != 3 || p.Meta.TimeLimitMs != 2000 {
		t.Fatalf("meta = %+v", p.Meta)
	}
	var names []string
	for _, c := range p.Cases {
		names = append(names, c.Name)
	}
	if fmt.Sprint(names) != "[1 2 10]" {
		t.Fatalf("case order = %v", names)
	}
	if p.Cases[2].AnswerPath != filepath.Join(dir, "answers", "10.out") {
		t.Fatalf("answer path = %s", p.Cases[2].AnswerPath)
	}
}

func TestLoadRejectsMismatchedCases(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		files map[string]string
		code  appErr.ErrorCode
	}{
		{name: "no cases", files: map[string]string{"problem.yaml": "title: x\n"}, code: appErr.TestCaseNotFound},
		{name: "count mismatch", files: map[string]string{"input/1.in": "", "input/2.in": "", "answers/1.out": ""}, code: appErr.TestCaseInvalid},
		{name: "name mismatch", files: map[string]string{"input/1.in": "", "answers/2.out": ""}, code: appErr.TestCaseInvalid},
		{name: "bad yaml", files: map[string]string{"problem.yaml": "title: [", "input/1.in": "", "answers/1.out": ""}, code: appErr.InvalidFormat},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeProblem(t, dir, tc.files)
			_, err := Load(1, dir)
			if appErr.GetCode(err) != tc.code {
				t.Fatalf("code = %v, want %v (%v)", appErr.GetCode(err), tc.code, err)
			}
		})
	}
}

func TestGetMissingWithoutFetcher(t *testing.T) {
	t.Parallel()
	s := NewStore(t.TempDir(), nil)
	if _, err := s.Get(context.Background(), 42); appErr.GetCode(err) != appErr.ProblemNotFound {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}
	if _, err := s.Get(context.Background(), 0); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type countingFetcher struct {
	calls atomic.Int32
}

func (f *countingFetcher) Fetch(ctx context.Context, problemID int64, dest string) error {
	f.calls.Add(1)
	for name, content := range map[string]string{"input/1.in": "2 2\n", "answers/1.out": "4\n"} {
		p := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestGetFetchesOnce(t *testing.T) {
	t.Parallel()
	fetcher := &countingFetcher{}
	s := NewStore(t.TempDir(), fetcher)
	for i := 0; i < 3; i++ {
		p, err := s.Get(context.Background(), 5)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(p.Cases) != 1 {
			t.Fatalf("cases = %d", len(p.Cases))
		}
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
}

type tarEntry struct {
	name    string
	content string
	dir     bool
}

func buildPack(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.content)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatalf("write entry: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
	return buf.Bytes()
}

func TestExtractPackRejectsEscape(t *testing.T) {
	t.Parallel()
	pack := buildPack(t, []tarEntry{{name: "../evil.txt", content: "x"}})
	dir := t.TempDir()
	err := ExtractPack(bytes.NewReader(pack), filepath.Join(dir, "out"))
	if appErr.GetCode(err) != appErr.StorageError {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "evil.txt")); statErr == nil {
		t.Fatalf("escaped entry was written")
	}
}

var errNoSuchKey = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}

type memObject struct {
	*bytes.Reader
}

func (memObject) Close() error { return nil }

type fakeObjectStorage struct {
	objects map[string][]byte
}

func (f *fakeObjectStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", objectKey, errNoSuchKey)
	}
	return memObject{bytes.NewReader(data)}, nil
}

func (f *fakeObjectStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+objectKey] = data
	return nil
}

func (f *fakeObjectStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, errNoSuchKey
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func TestObjectPackFetcherInstallsProblem(t *testing.T) {
	t.Parallel()
	pack := buildPack(t, []tarEntry{
		{name: "input/", dir: true},
		{name: "input/1.in", content: "3 4\n"},
		{name: "answers/1.out", content: "7\n"},
		{name: "problem.yaml", content: "title: Add\ndifficulty: 2\n"},
	})
	objects := &fakeObjectStorage{objects: map[string][]byte{"judge/packs/9.tar.zst": pack}}
	fetcher := NewObjectPackFetcher(objects, "judge", "/packs/")
	if key := fetcher.PackKey(9); key != "packs/9.tar.zst" {
		t.Fatalf("pack key = %s", key)
	}

	root := t.TempDir()
	s := NewStore(root, fetcher)
	p, err := s.Get(context.Background(), 9)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Meta.Title != "Add" || len(p.Cases) != 1 {
		t.Fatalf("problem = %+v", p)
	}
	data, err := os.ReadFile(p.Cases[0].AnswerPath)
	if err != nil || string(data) != "7\n" {
		t.Fatalf("answer = %q, %v", data, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "9" {
		t.Fatalf("temp dirs left behind: %v", entries)
	}
}

func TestObjectPackFetcherMissingPack(t *testing.T) {
	t.Parallel()
	objects := &fakeObjectStorage{objects: map[string][]byte{}}
	s := NewStore(t.TempDir(), NewObjectPackFetcher(objects, "judge", "packs"))
	if _, err := s.Get(context.Background(), 3); appErr.GetCode(err) != appErr.ProblemNotFound {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}
}
