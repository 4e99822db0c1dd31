package yolo

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads one class label per line. Blank lines and lines starting
// with '#' are skipped; the remaining line order is the class index.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("yolo: labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("yolo: labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("yolo: labels: %s has no labels", path)
	}
	return labels, nil
}
