package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Line formats (one record per line, '|' separated):
//
//	jobs:     id|fireAt|text|comma-joined-image-urls|status|createdAt
//	posts:    timestamp|identifier|text|media-count|status
//	articles: timestamp|title|image-count|source-url|page|status
//
// A literal '|' inside a free-text field is substituted with '｜' (U+FF5C)
// on write and reversed on read, so splitting a line on '|' always yields
// the exact field count. Newlines are flattened to spaces: a record is
// always exactly one line. escapeText/unescapeText form a bijection on
// text that does not already contain '｜'.

const (
	fieldSep    = "|"
	pipeStandIn = "｜" // U+FF5C FULLWIDTH VERTICAL LINE

	jobFieldCount     = 6
	postFieldCount    = 5
	articleFieldCount = 6
)

var newlineFlattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func escapeText(s string) string {
	s = newlineFlattener.Replace(s)
	return strings.ReplaceAll(s, fieldSep, pipeStandIn)
}

func unescapeText(s string) string {
	return strings.ReplaceAll(s, pipeStandIn, fieldSep)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}

func encodeJob(j Job) string {
	return strings.Join([]string{
		escapeText(j.ID),
		formatTime(j.FireAt),
		escapeText(j.Text),
		escapeText(strings.Join(j.ImageURLs, ",")),
		string(j.Status),
		formatTime(j.CreatedAt),
	}, fieldSep)
}

func parseJob(line string) (Job, error) {
	parts := strings.Split(line, fieldSep)
	if len(parts) != jobFieldCount {
		return Job{}, fmt.Errorf("job record: got %d fields, want %d", len(parts), jobFieldCount)
	}
	fireAt, err := parseTime("fireAt", parts[1])
	if err != nil {
		return Job{}, err
	}
	createdAt, err := parseTime("createdAt", parts[5])
	if err != nil {
		return Job{}, err
	}
	id := unescapeText(strings.TrimSpace(parts[0]))
	if id == "" {
		return Job{}, fmt.Errorf("job record: empty id")
	}
	status := Status(strings.TrimSpace(parts[4]))
	if status == "" {
		status = StatusPending
	}
	return Job{
		ID:        id,
		FireAt:    fireAt,
		Text:      unescapeText(parts[2]),
		ImageURLs: splitURLs(unescapeText(parts[3])),
		Status:    status,
		CreatedAt: createdAt,
	}, nil
}

func splitURLs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

func encodePost(r PostRecord) string {
	return strings.Join([]string{
		formatTime(r.At),
		escapeText(r.RemoteID),
		escapeText(r.Text),
		strconv.Itoa(r.MediaCount),
		r.Status,
	}, fieldSep)
}

func parsePost(line string) (PostRecord, error) {
	parts := strings.Split(line, fieldSep)
	if len(parts) != postFieldCount {
		return PostRecord{}, fmt.Errorf("post record: got %d fields, want %d", len(parts), postFieldCount)
	}
	at, err := parseTime("timestamp", parts[0])
	if err != nil {
		return PostRecord{}, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(parts[3]))
	return PostRecord{
		At:         at,
		RemoteID:   unescapeText(strings.TrimSpace(parts[1])),
		Text:       unescapeText(parts[2]),
		MediaCount: n,
		Status:     strings.TrimSpace(parts[4]),
	}, nil
}

func encodeArticle(r ArticleRecord) string {
	return strings.Join([]string{
		formatTime(r.At),
		escapeText(r.Title),
		strconv.Itoa(r.ImageCount),
		escapeText(r.SourceURL),
		strconv.Itoa(r.Page),
		r.Status,
	}, fieldSep)
}

func parseArticle(line string) (ArticleRecord, error) {
	parts := strings.Split(line, fieldSep)
	if len(parts) != articleFieldCount {
		return ArticleRecord{}, fmt.Errorf("article record: got %d fields, want %d", len(parts), articleFieldCount)
	}
	at, err := parseTime("timestamp", parts[0])
	if err != nil {
		return ArticleRecord{}, err
	}
	imgs, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
	page, _ := strconv.Atoi(strings.TrimSpace(parts[4]))
	return ArticleRecord{
		At:         at,
		Title:      unescapeText(parts[1]),
		ImageCount: imgs,
		SourceURL:  unescapeText(strings.TrimSpace(parts[3])),
		Page:       page,
		Status:     strings.TrimSpace(parts[5]),
	}, nil
}
