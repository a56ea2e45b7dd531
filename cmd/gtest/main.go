// gtest runs the compiler over a directory of dumped module trees and checks
// what it prints against golden files recorded earlier.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gpyc/pkg/cli"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Golden is what a fixture is expected to produce.
type Golden struct {
	SourceHash string    `json:"source_hash"`
	Args       []string  `json:"args,omitempty"`
	Compile    Execution `json:"compile"`
}

type FileTestResult struct {
	File    string     `json:"file"`
	Status  string     `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string     `json:"message,omitempty"`
	Diff    string     `json:"diff,omitempty"`
	Target  *Execution `json:"target,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	targetCompiler string
	targetArgs     string
	generateGolden string
	testFiles      string
	skipFiles      string
	outputJSON     string
	timeout        time.Duration
	jobs           int
	verbose        bool
	goldenDir      string
	ignoreLines    string
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	app := cli.NewApp("gtest")
	app.InputHint = ""
	app.Description = "Compiles dumped module trees with gpyc and compares the output against recorded golden files."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/gpyc>"
	app.Since = 2025

	fs := app.FlagSet
	fs.String(&targetCompiler, "target-compiler", "", "./gpyc", "Path to the compiler to test.", "path")
	fs.String(&targetArgs, "target-args", "", "--dump-ir -q", "Arguments for the compiler (space-separated).", "args")
	fs.String(&testFiles, "test-files", "", "tests/*.json", "Glob pattern(s) for fixtures to test (space-separated).", "glob")
	fs.String(&skipFiles, "skip-files", "", "", "Files to skip (space-separated).", "files")
	fs.String(&ignoreLines, "ignore-lines", "", "", "Comma-separated substrings to ignore during output comparison.", "list")
	fs.Duration(&timeout, "timeout", "", 10*time.Second, "Timeout for each compiler run.")
	fs.Int(&jobs, "jobs", "j", 4, "Number of parallel test jobs.")
	fs.Bool(&verbose, "verbose", "v", false, "Enable verbose logging.")

	fs.Section("Golden Files")
	fs.String(&generateGolden, "generate-golden", "", "", "Generate golden files for the given fixtures (glob patterns, space-separated).", "glob")
	fs.String(&goldenDir, "dir", "", "", "Directory to store/read golden files (defaults to the fixture's dir).", "dir")
	fs.String(&outputJSON, "output", "o", ".test_results.json", "Output file for the JSON test report.", "file")
	fs.Section("")

	app.Action = func([]string) error {
		log.SetFlags(0)
		setupInterruptHandler()

		if generateGolden != "" {
			files, err := expandGlobPatterns(generateGolden)
			if err != nil {
				log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
			}
			for _, file := range files {
				handleGenerateGolden(file)
			}
			return nil
		}
		handleRunTestSuite()
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(2)
	}
}

func setupInterruptHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled.\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func getGoldenPath(fixture string) string {
	name := "." + filepath.Base(fixture) + ".golden"
	if goldenDir != "" {
		return filepath.Join(goldenDir, name)
	}
	return filepath.Join(filepath.Dir(fixture), name)
}

// hashFile computes the xxhash of a file's content
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func handleGenerateGolden(fixture string) {
	log.Printf("Generating golden file for %s...\n", fixture)
	fileHash, err := hashFile(fixture)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not hash fixture %s: %v\n", cRed, cNone, fixture, err)
	}

	args := strings.Fields(targetArgs)
	run := runCompiler(args, fixture)
	if run.TimedOut {
		log.Fatalf("%s[ERROR]%s Compiler timed out on %s\n", cRed, cNone, fixture)
	}
	run.Duration = 0
	golden := Golden{SourceHash: fileHash, Args: args, Compile: run}

	jsonData, err := json.MarshalIndent(golden, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
	}
	if goldenDir != "" {
		if err := os.MkdirAll(goldenDir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, goldenDir, err)
		}
	}
	goldenFile := getGoldenPath(fixture)
	if err := os.WriteFile(goldenFile, jsonData, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, goldenFile, err)
	}
	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenFile)
}

func handleRunTestSuite() {
	if _, err := exec.LookPath(targetCompiler); err != nil {
		log.Fatalf("%s[ERROR]%s Compiler '%s' not found: %v\n", cRed, cNone, targetCompiler, err)
	}
	files, err := expandGlobPatterns(testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(skipFiles) {
		if abs, err := filepath.Abs(f); err == nil {
			skipList[abs] = true
		}
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file)
			}
		}()
	}

	for _, file := range files {
		if skipList[file] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		tasks <- file
	}
	close(tasks)
	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool { return allResults[i].File < allResults[j].File })

	printSummary(allResults)
	if hasFailures(writeJSONReport(allResults)) {
		os.Exit(1)
	}
}

func testFile(file string) *FileTestResult {
	goldenFile := getGoldenPath(file)
	goldenData, err := os.ReadFile(goldenFile)
	if err != nil {
		return &FileTestResult{File: file, Status: "SKIP", Message: "No golden file; run with --generate-golden first"}
	}
	var golden Golden
	if err := json.Unmarshal(goldenData, &golden); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}
	fileHash, err := hashFile(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to hash fixture: %v", err)}
	}
	if fileHash != golden.SourceHash {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Golden file is stale: the fixture changed since it was recorded"}
	}

	args := golden.Args
	if len(args) == 0 {
		args = strings.Fields(targetArgs)
	}
	target := runCompiler(args, file)
	if verbose {
		log.Printf("[%s] exit %d in %s", file, target.ExitCode, formatDuration(target.Duration))
	}
	return compareResults(file, &golden.Compile, &target)
}

func runCompiler(args []string, fixture string) Execution {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	allArgs := append(append([]string{}, args...), fixture)
	return executeCommand(ctx, targetCompiler, allArgs...)
}

// executeCommand runs a command with a timeout and captures its output
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(startTime)}
	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
	} else if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -2
			result.Stderr += "\nExecution error: " + err.Error()
		}
	}
	return result
}

func compareResults(file string, want, got *Execution) *FileTestResult {
	if got.TimedOut {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Compiler timed out", Target: got}
	}
	ignored := strings.Split(ignoreLines, ",")
	var diffs strings.Builder
	if want.ExitCode != got.ExitCode {
		fmt.Fprintf(&diffs, "Exit code: want %d, got %d\n", want.ExitCode, got.ExitCode)
	}
	if d := cmp.Diff(filterOutput(want.Stdout, ignored), filterOutput(got.Stdout, ignored)); d != "" {
		fmt.Fprintf(&diffs, "Stdout (-want +got):\n%s", d)
	}
	if d := cmp.Diff(filterOutput(want.Stderr, ignored), filterOutput(got.Stderr, ignored)); d != "" {
		fmt.Fprintf(&diffs, "Stderr (-want +got):\n%s", d)
	}
	if diffs.Len() > 0 {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output differs from golden file", Diff: diffs.String(), Target: got}
	}
	return &FileTestResult{File: file, Status: "PASS", Target: got}
}

// filterOutput removes lines containing any of the given substrings
func filterOutput(output string, ignoredSubstrings []string) string {
	if len(ignoredSubstrings) == 0 || output == "" {
		return output
	}
	lines := strings.Split(output, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		ignore := false
		for _, sub := range ignoredSubstrings {
			if sub != "" && strings.Contains(line, sub) {
				ignore = true
				break
			}
		}
		if !ignore {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var total time.Duration
	var timed int
	for _, r := range results {
		switch r.Status {
		case "PASS":
			passed++
			if verbose {
				fmt.Printf("%s[PASS]%s  %s\n", cGreen, cNone, r.File)
			}
		case "FAIL":
			failed++
			fmt.Printf("%s[FAIL]%s  %s: %s\n", cRed, cNone, r.File, r.Message)
			fmt.Print(formatDiff(r.Diff))
		case "SKIP":
			skipped++
			if verbose {
				fmt.Printf("%s[SKIP]%s  %s: %s\n", cYellow, cNone, r.File, r.Message)
			}
		case "ERROR":
			errored++
			fmt.Printf("%s[ERROR]%s %s: %s\n", cRed, cNone, r.File, r.Message)
		}
		if r.Target != nil {
			total += r.Target.Duration
			timed++
		}
	}

	fmt.Println("----------------------")
	fmt.Printf("%sTotal: %d%s, %sPassed: %d%s, %sFailed: %d%s, %sSkipped: %d%s, %sErrored: %d%s\n",
		cBold, len(results), cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone)
	if timed > 0 {
		fmt.Printf("%s%s%s averaged %s per fixture.\n", cCyan, filepath.Base(targetCompiler), cNone, strings.TrimSpace(formatDuration(total/time.Duration(timed))))
	}
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmed, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}
	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}
	outputFile := outputJSON
	if goldenDir != "" {
		if err := os.MkdirAll(goldenDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, goldenDir, err)
		}
		outputFile = filepath.Join(goldenDir, outputJSON)
	}
	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			if !seen[absFile] {
				if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, absFile)
					seen[absFile] = true
				}
			}
		}
	}
	return allFiles, nil
}
