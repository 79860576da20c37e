// Package problemstore loads problems and their test cases from a local
// directory, fetching missing data packs from object storage on demand.
//
// Layout of one problem:
//
//	<root>/<id>/problem.yaml      optional metadata
//	<root>/<id>/input/<name>.in   test input, fed on stdin
//	<root>/<id>/answers/<name>.out expected output
package problemstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zeromicro/go-zero/core/syncx"
	"gopkg.in/yaml.v3"

	appErr "codejudge/pkg/errors"
)

const (
	metaFileName = "problem.yaml"
	inputDir     = "input"
	answerDir    = "answers"
	inputExt     = ".in"
	answerExt    = ".out"
)

// Meta is the optional problem.yaml content.
type Meta struct {
	Title       string `yaml:"title"`
	Difficulty  int    `yaml:"difficulty"`
	TimeLimitMs int64  `yaml:"timeLimitMs"`
	Language    string `yaml:"language"`
}

// Case pairs one input file with its expected output.
type Case struct {
	Name       string
	InputPath  string
	AnswerPath string
}

// Problem is a loaded problem with its ordered test cases.
type Problem struct {
	ID    int64
	Dir   string
	Meta  Meta
	Cases []Case
}

// PackFetcher materializes the data pack of a problem into dest.
type PackFetcher interface {
	Fetch(ctx context.Context, problemID int64, dest string) error
}

// Store resolves problems by id.
type Store struct {
	root    string
	fetcher PackFetcher
	flight  syncx.SingleFlight
}

// NewStore creates a store rooted at root. fetcher may be nil.
func NewStore(root string, fetcher PackFetcher) *Store {
	return &Store{
		root:    root,
		fetcher: fetcher,
		flight:  syncx.NewSingleFlight(),
	}
}

// Root returns the problems directory.
func (s *Store) Root() string {
	return s.root
}

// Get loads a problem, fetching its data pack first when it is not on disk.
func (s *Store) Get(ctx context.Context, problemID int64) (Problem, error) {
	if problemID <= 0 {
		return Problem{}, appErr.ValidationError("problem_id", "must be positive")
	}
	dir := filepath.Join(s.root, strconv.FormatInt(problemID, 10))
	if _, err := os.Stat(dir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Problem{}, appErr.Wrapf(err, appErr.StorageError, "stat problem dir failed")
		}
		if s.fetcher == nil {
			return Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", problemID)
		}
		_, err := s.flight.Do(dir, func() (any, error) {
			if _, err := os.Stat(dir); err == nil {
				return nil, nil
			}
			return nil, s.fetcher.Fetch(ctx, problemID, dir)
		})
		if err != nil {
			return Problem{}, err
		}
	}
	return Load(problemID, dir)
}

// Load reads the problem rooted at dir.
func Load(problemID int64, dir string) (Problem, error) {
	p := Problem{ID: problemID, Dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &p.Meta); err != nil {
			return Problem{}, appErr.Wrapf(err, appErr.InvalidFormat, "parse %s failed", metaFileName)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Problem{}, appErr.Wrapf(err, appErr.StorageError, "read %s failed", metaFileName)
	}

	inputs, err := listByExt(filepath.Join(dir, inputDir), inputExt)
	if err != nil {
		return Problem{}, err
	}
	answers, err := listByExt(filepath.Join(dir, answerDir), answerExt)
	if err != nil {
		return Problem{}, err
	}
	if len(inputs) == 0 {
		return Problem{}, appErr.Newf(appErr.TestCaseNotFound, "problem %d has no test cases", problemID)
	}
	if len(inputs) != len(answers) {
		return Problem{}, appErr.Newf(appErr.TestCaseInvalid,
			"problem %d has %d inputs and %d answers", problemID, len(inputs), len(answers))
	}

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})
	for _, name := range names {
		answer, ok := answers[name]
		if !ok {
			return Problem{}, appErr.Newf(appErr.TestCaseInvalid, "missing answer for test %s", name)
		}
		p.Cases = append(p.Cases, Case{
			Name:       name,
			InputPath:  inputs[name],
			AnswerPath: answer,
		})
	}
	return p, nil
}

// listByExt maps base names (without ext) to paths for regular files in dir.
func listByExt(dir, ext string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "read %s failed", filepath.Base(dir))
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		out[strings.TrimSuffix(entry.Name(), ext)] = filepath.Join(dir, entry.Name())
	}
	return out, nil
}

// naturalLess orders numeric names numerically, numeric before non-numeric,
// and everything else lexically.
func naturalLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
