package model

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// LoadLabels reads one class name per line. Blank lines are skipped.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}

func WriteLabels(path string, labels []string) error {
	return os.WriteFile(path, []byte(strings.Join(labels, "\n")+"\n"), 0o644)
}

// LabelFromSynset turns a Stanford Dogs directory name like
// "n02099601-golden_retriever" into "Golden_retriever".
func LabelFromSynset(dirname string) (string, bool) {
	parts := strings.Split(dirname, "-")
	if len(parts) < 2 {
		return "", false
	}
	name := strings.ToLower(strings.Join(parts[1:], "_"))
	if name == "" {
		return "", false
	}
	return strings.ToUpper(name[:1]) + name[1:], true
}

// LabelsFromAnnotations lists the annotation directory and returns the labels
// ordered by synset directory name, which is the class index order used in training.
func LabelsFromAnnotations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	labels := make([]string, 0, len(names))
	for _, n := range names {
		if l, ok := LabelFromSynset(n); ok {
			labels = append(labels, l)
		}
	}
	return labels, nil
}
