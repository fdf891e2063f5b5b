// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testrun

import (
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// JUNIT XML
// =============================================================================

// junitSuite matches both <testsuites> and <testsuite> roots; suites may
// nest.
type junitSuite struct {
	XMLName xml.Name
	Name    string       `xml:"name,attr"`
	Suites  []junitSuite `xml:"testsuite"`
	Cases   []junitCase  `xml:"testcase"`
}

type junitCase struct {
	ClassName string    `xml:"classname,attr"`
	Name      string    `xml:"name,attr"`
	Failures  []xmlNode `xml:"failure"`
	Errors    []xmlNode `xml:"error"`
	Skipped   *xmlNode  `xml:"skipped"`
}

type xmlNode struct {
	Message string `xml:"message,attr"`
}

func (c junitCase) status() Status {
	switch {
	case len(c.Failures) > 0 || len(c.Errors) > 0:
		return StatusFailed
	case c.Skipped != nil:
		return StatusSkipped
	default:
		return StatusPassed
	}
}

// ParseJUnitXML adds the test cases of one report to run.
//
// Outputs:
//
//	int - Test cases found
//	error - ErrReportParse for malformed XML
func ParseJUnitXML(data []byte, run *Run) (int, error) {
	var root junitSuite
	if err := xml.Unmarshal(data, &root); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrReportParse, err)
	}
	if root.XMLName.Local != "testsuites" && root.XMLName.Local != "testsuite" {
		return 0, fmt.Errorf("%w: unexpected root element <%s>", ErrReportParse, root.XMLName.Local)
	}
	return collectSuite(root, run), nil
}

func collectSuite(s junitSuite, run *Run) int {
	n := 0
	for _, c := range s.Cases {
		owner := c.ClassName
		if owner == "" {
			owner = s.Name
		}
		id := c.Name
		if owner != "" {
			id = owner + "." + c.Name
		}
		run.record(id, c.status())
		n++
	}
	for _, child := range s.Suites {
		n += collectSuite(child, run)
	}
	return n
}

// reportFiles lists XML files under the report directory globs of root
// modified no earlier than since.
func reportFiles(root string, dirs []string, since time.Time) []string {
	// Some filesystems keep whole-second modification times.
	since = since.Truncate(time.Second)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range dirs {
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			continue
		}
		for _, dir := range matches {
			_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".xml") || seen[path] {
					return nil
				}
				info, err := d.Info()
				if err != nil || info.ModTime().Before(since) {
					return nil
				}
				seen[path] = true
				files = append(files, path)
				return nil
			})
		}
	}
	sort.Strings(files)
	return files
}

// readReports parses the fresh reports under root into run.
//
// Outputs:
//
//	int - Test cases found
//	[]error - Per-file parse failures, which do not stop the scan
func readReports(root string, dirs []string, since time.Time, run *Run) (int, []error) {
	var (
		total int
		errs  []error
	)
	for _, path := range reportFiles(root, dirs, since) {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := ParseJUnitXML(data, run)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		total += n
	}
	return total, errs
}
