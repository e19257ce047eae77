package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a run over many scenario files.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is one scenario that did not pass.
type SuiteFailure struct {
	ScenarioPath string   `json:"scenario_path"`
	Scenario     string   `json:"scenario,omitempty"`
	Errors       []string `json:"errors"`
}

// Pass reports whether every scenario passed.
func (r *SuiteResult) Pass() bool { return r.Failed == 0 }

// CollectScenarioFiles expands paths into scenario files. A directory
// contributes every *.yaml and *.yml file directly inside it. The result
// is sorted and free of duplicates.
func CollectScenarioFiles(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ext := strings.ToLower(filepath.Ext(e.Name())); ext == ".yaml" || ext == ".yml" {
				add(filepath.Join(p, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunFiles loads and runs every scenario file in order. Load and run
// failures are counted as scenario failures; only context cancellation is
// returned as an error.
func RunFiles(ctx context.Context, files []string) (*SuiteResult, error) {
	res := &SuiteResult{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			res.fail(path, "", fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		out, err := RunContext(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.fail(path, scenario.Name, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !out.Pass {
			res.fail(path, scenario.Name, out.Errors...)
			continue
		}
		res.Passed++
	}
	return res, nil
}

func (r *SuiteResult) fail(path, name string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, SuiteFailure{ScenarioPath: path, Scenario: name, Errors: errs})
}
