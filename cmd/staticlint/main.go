// Command staticlint is the multichecker run over this repository in CI.
//
// Besides the fixed analyzer set it enables the staticcheck checks listed in
// config.json. The file is looked up in STATICLINT_CONFIG first and next to
// the binary otherwise. An entry ending in "*" enables every check with that
// prefix, so "SA4*" turns on the whole SA4xxx group.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gordonklaus/ineffassign/pkg/ineffassign"
	"github.com/gostaticanalysis/nilerr"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/httpresponse"
	"golang.org/x/tools/go/analysis/passes/loopclosure"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unmarshal"
	"golang.org/x/tools/go/analysis/passes/unreachable"
	"honnef.co/go/tools/staticcheck"

	"github.com/patric-chuzhbe/emergency/cmd/staticlint/nodefaultmux"
)

const (
	configFileName = `config.json`
	configEnv      = `STATICLINT_CONFIG`
)

type lintConfig struct {
	Staticcheck []string `json:"staticcheck"`
}

// baseAnalyzers run regardless of config.json.
var baseAnalyzers = []*analysis.Analyzer{
	copylock.Analyzer,
	httpresponse.Analyzer,
	loopclosure.Analyzer,
	lostcancel.Analyzer,
	printf.Analyzer,
	structtag.Analyzer,
	unmarshal.Analyzer,
	unreachable.Analyzer,
	ineffassign.Analyzer,
	nilerr.Analyzer,
	nodefaultmux.Analyzer,
}

func configPath() (string, error) {
	if path := os.Getenv(configEnv); path != "" {
		return path, nil
	}
	binary, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("in cmd/staticlint/main.go/configPath(): error while `os.Executable()` calling: %w", err)
	}
	return filepath.Join(filepath.Dir(binary), configFileName), nil
}

func loadConfig() (*lintConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("in cmd/staticlint/main.go/loadConfig(): error while `os.ReadFile()` calling: %w", err)
	}
	var cfg lintConfig
	if err = json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("in cmd/staticlint/main.go/loadConfig(): error while `json.Unmarshal()` calling: %w", err)
	}
	return &cfg, nil
}

func enabled(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if name == pattern {
			return true
		}
	}
	return false
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "staticlint:", err)
		os.Exit(1)
	}

	checks := append([]*analysis.Analyzer(nil), baseAnalyzers...)
	for _, v := range staticcheck.Analyzers {
		if enabled(v.Analyzer.Name, cfg.Staticcheck) {
			checks = append(checks, v.Analyzer)
		}
	}

	multichecker.Main(checks...)
}
