// Package causegroups reads the cause-of-death grouping table. Each row is
// one cause and each column after the first two is a group, marked with 1
// for member causes.
package causegroups

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"vadash/internal/domain"
)

const causeColumn = "cod"

// firstGroupColumn skips the cause and its display name.
const firstGroupColumn = 2

func Load(path string) (domain.CauseGroups, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.CauseGroups{}, err
	}
	defer f.Close()
	groups, err := Parse(f)
	if err != nil {
		return domain.CauseGroups{}, fmt.Errorf("%s: %w", path, err)
	}
	return groups, nil
}

func Parse(r io.Reader) (domain.CauseGroups, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return domain.CauseGroups{}, fmt.Errorf("read header: %w", err)
	}
	causeIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), causeColumn) {
			causeIdx = i
			break
		}
	}
	if causeIdx < 0 {
		return domain.CauseGroups{}, fmt.Errorf("missing %q column", causeColumn)
	}

	groups := domain.NewCauseGroups()
	var columns []int
	for i := firstGroupColumn; i < len(header); i++ {
		if i == causeIdx || strings.TrimSpace(header[i]) == "" {
			continue
		}
		columns = append(columns, i)
	}

	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.CauseGroups{}, fmt.Errorf("line %d: %w", line, err)
		}
		if causeIdx >= len(row) {
			continue
		}
		cause := strings.TrimSpace(row[causeIdx])
		if cause == "" {
			continue
		}
		for _, i := range columns {
			if i < len(row) && member(row[i]) {
				groups.Add(header[i], cause)
			}
		}
	}
	return groups, nil
}

func member(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "1.0", "true", "yes":
		return true
	}
	return false
}
