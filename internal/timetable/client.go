// Package timetable fetches and formats the day's class schedule from the
// NEIS open API.
package timetable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/classboard-dev/classboard-worker/internal/conf"
	"github.com/classboard-dev/classboard-worker/internal/logger"
)

// Field alias precedence for NEIS timetable rows. The API is inconsistent
// across school types and years; aliases are tried in this order and the
// first present one wins. This precedence is a contract: reordering it
// changes which value is read from rows carrying several variants.
var (
	periodAliases  = []string{"PERIO", "PERIOD", "ITRT_CNTNTSEQ"}
	subjectAliases = []string{"ITRT_CNTNT", "SUBJECT", "SUB_NM"}
)

// Lesson is one period row. HasPeriod is false when no period alias matched;
// such rows sort after numbered ones, keeping their original relative order.
type Lesson struct {
	Period    int
	HasPeriod bool
	Subject   string
}

// Client queries the NEIS hisTimetable endpoint.
type Client struct {
	baseURL    string
	key        string
	officeCode string
	schoolCode string
	client     *http.Client
	log        logger.Logger
}

// NewClient creates a timetable client from the NEIS settings.
func NewClient(cfg conf.NEISSettings, log logger.Logger) *Client {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		key:        cfg.Key,
		officeCode: cfg.OfficeCode,
		schoolCode: cfg.SchoolCode,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

// FetchDay returns the lessons for the class on the given date (YYYYMMDD).
// Rows without a subject are dropped. A response without a timetable table
// (no classes, API hiccup with a valid body) yields an empty slice, not an
// error; only transport, HTTP, and JSON-decode failures are errors.
func (c *Client) FetchDay(ctx context.Context, grade, section int, date string) ([]Lesson, error) {
	params := url.Values{}
	params.Set("Type", "json")
	params.Set("ATPT_OFCDC_SC_CODE", c.officeCode)
	params.Set("SD_SCHUL_CODE", c.schoolCode)
	params.Set("GRADE", strconv.Itoa(grade))
	params.Set("CLASS_NM", strconv.Itoa(section))
	params.Set("ALL_TI_YMD", date)
	if c.key != "" {
		params.Set("KEY", c.key)
	}

	endpoint := c.baseURL + "/hisTimetable?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build timetable request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timetable fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timetable fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read timetable response: %w", err)
	}
	return parseLessons(body)
}

// parseLessons extracts lessons from a hisTimetable response body. The table
// is a two-element array (head, then rows); elements are scanned for a "row"
// key rather than indexed so head-only responses parse cleanly.
func parseLessons(body []byte) ([]Lesson, error) {
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("malformed timetable response: %w", err)
	}

	table, err := root.GetObjectArray("hisTimetable")
	if err != nil {
		// No table at all: treated as an empty day.
		return []Lesson{}, nil
	}

	var lessons []Lesson
	for _, part := range table {
		rows, err := part.GetObjectArray("row")
		if err != nil {
			continue
		}
		for _, row := range rows {
			subject := firstString(row, subjectAliases)
			if subject == "" {
				continue
			}
			lesson := Lesson{Subject: subject}
			if period, ok := firstInt(row, periodAliases); ok {
				lesson.Period = period
				lesson.HasPeriod = true
			}
			lessons = append(lessons, lesson)
		}
	}
	return lessons, nil
}

// firstString returns the first alias present as a non-empty string, or "".
func firstString(row *jason.Object, aliases []string) string {
	for _, alias := range aliases {
		if s, err := row.GetString(alias); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// firstInt returns the first alias present as an integer. NEIS serializes
// period numbers sometimes as strings and sometimes as numbers.
func firstInt(row *jason.Object, aliases []string) (int, bool) {
	for _, alias := range aliases {
		if s, err := row.GetString(alias); err == nil {
			if n, convErr := strconv.Atoi(strings.TrimSpace(s)); convErr == nil {
				return n, true
			}
			continue
		}
		if n, err := row.GetInt64(alias); err == nil {
			return int(n), true
		}
	}
	return 0, false
}
