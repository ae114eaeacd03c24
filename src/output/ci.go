package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sofmeright/freightqueue/src/build"
)

// CI environment detection.

func IsCI() bool {
	return os.Getenv("CI") == "true"
}

func IsGitLabCI() bool {
	return os.Getenv("GITLAB_CI") == "true"
}

// GitLab collapsible section helpers.

func SectionStart(w io.Writer, id, name string) {
	if !IsGitLabCI() {
		return
	}
	ts := time.Now().Unix()
	fmt.Fprintf(w, "\033[0Ksection_start:%d:%s\r\033[0K%s\n", ts, id, name)
}

func SectionEnd(w io.Writer, id string) {
	if !IsGitLabCI() {
		return
	}
	ts := time.Now().Unix()
	fmt.Fprintf(w, "\033[0Ksection_end:%d:%s\r\033[0K\n", ts, id)
}

// SectionStartCollapsed starts a section that GitLab shows folded.
func SectionStartCollapsed(w io.Writer, id, name string) {
	if !IsGitLabCI() {
		return
	}
	ts := time.Now().Unix()
	fmt.Fprintf(w, "\033[0Ksection_start:%d:%s[collapsed=true]\r\033[0K%s\n", ts, id, name)
}

// JUnit XML types for CI test reporting.

type JUnitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// WriteBuildJUnit writes finished jobs to dir/builds.xml. Each repository
// becomes a test suite and each job a test case; failed jobs carry the
// tail of their build output.
func WriteBuildJUnit(dir string, snaps []build.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	var (
		order  []string
		byRepo = map[string]*JUnitTestSuite{}
		secs   = map[string]float64{}
		root   = JUnitTestSuites{Name: "freightqueue-builds"}
	)
	for _, snap := range snaps {
		suite, ok := byRepo[snap.Repo]
		if !ok {
			suite = &JUnitTestSuite{Name: snap.Repo}
			byRepo[snap.Repo] = suite
			order = append(order, snap.Repo)
		}

		tc := JUnitTestCase{
			Name:      strings.Join(snap.Tags, " "),
			Classname: "freightqueue.build",
			Time:      fmt.Sprintf("%.3f", snap.Duration().Seconds()),
		}
		if tc.Name == "" {
			tc.Name = snap.ID
		}
		if snap.Status != build.StatusSuccess {
			tc.Failure = &JUnitFailure{
				Message: snap.Error,
				Type:    string(snap.Status),
				Body:    outputTail(snap.BuildOutput, outputTailLines),
			}
			suite.Failures++
			root.Failures++
		}
		secs[snap.Repo] += snap.Duration().Seconds()
		suite.Cases = append(suite.Cases, tc)
		suite.Tests++
		root.Tests++
	}

	for _, repo := range order {
		suite := byRepo[repo]
		suite.Time = fmt.Sprintf("%.3f", secs[repo])
		root.Suites = append(root.Suites, *suite)
	}
	root.Time = fmt.Sprintf("%.3f", totalElapsed(snaps).Seconds())

	path := filepath.Join(dir, "builds.xml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	f.WriteString(xml.Header)
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encoding junit xml: %w", err)
	}
	f.WriteString("\n")

	return nil
}

// outputTail returns the last n lines of a build transcript.
func outputTail(events []build.ProgressEvent, n int) string {
	var lines []string
	for _, ev := range events {
		lines = append(lines, strings.Split(strings.TrimRight(ev.Text(), "\n"), "\n")...)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// CIHeader prints a compact pipeline context block at the start of a CI run.
func CIHeader(w io.Writer) {
	if !IsCI() {
		return
	}
	parts := []string{}
	if tag := os.Getenv("CI_COMMIT_TAG"); tag != "" {
		parts = append(parts, fmt.Sprintf("tag=%s", tag))
	}
	if sha := os.Getenv("CI_COMMIT_SHORT_SHA"); sha != "" {
		parts = append(parts, fmt.Sprintf("sha=%s", sha))
	} else if sha := os.Getenv("CI_COMMIT_SHA"); sha != "" && len(sha) >= 8 {
		parts = append(parts, fmt.Sprintf("sha=%s", sha[:8]))
	}
	if pipe := os.Getenv("CI_PIPELINE_ID"); pipe != "" {
		parts = append(parts, fmt.Sprintf("pipeline=%s", pipe))
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  ci: %s\n", strings.Join(parts, "  "))
	}
}
