// Package news handles CSV ingestion of articles and archival of the raw uploads.
package news

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ArticleInput is one parsed row from an uploaded CSV.
type ArticleInput struct {
	Title   string
	Content string
}

// ParseCSV reads articles from a two-column CSV of title,content. A leading
// header row naming those columns is skipped; blank rows are ignored.
func ParseCSV(r io.Reader) ([]ArticleInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	articles := make([]ArticleInput, 0)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		if line == 1 && isHeader(record) {
			continue
		}
		if isBlank(record) {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("row %d: expected title and content columns", line)
		}

		title := strings.TrimSpace(record[0])
		content := strings.TrimSpace(record[1])
		if title == "" || content == "" {
			return nil, fmt.Errorf("row %d: title and content must be non-empty", line)
		}
		articles = append(articles, ArticleInput{Title: title, Content: content})
	}

	if len(articles) == 0 {
		return nil, fmt.Errorf("no articles found in upload")
	}
	return articles, nil
}

func isHeader(record []string) bool {
	if len(record) < 2 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), "title") &&
		strings.EqualFold(strings.TrimSpace(record[1]), "content")
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
