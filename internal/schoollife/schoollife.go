// Package schoollife serves the board's daily meal and weather cards, with
// same-day caching and stale-on-error fallback.
package schoollife

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"

	"github.com/classboard-dev/classboard-worker/internal/conf"
	"github.com/classboard-dev/classboard-worker/internal/logger"
)

const (
	openMeteoURL = "https://api.open-meteo.com/v1/forecast"

	mealTimeout    = 15 * time.Second
	weatherTimeout = 5 * time.Second
)

// MealCards holds the day's menu by meal.
type MealCards struct {
	Breakfast string `json:"breakfast,omitempty"`
	Lunch     string `json:"lunch,omitempty"`
	Dinner    string `json:"dinner,omitempty"`
	Date      string `json:"date"`
}

// Weather is the day's forecast summary.
type Weather struct {
	Temperature float64 `json:"temperature"`
	Desc        string  `json:"desc"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Rain        float64 `json:"rain"`
}

// cacheEntry keeps a fetched value with its fetch time for same-day checks.
type cacheEntry[T any] struct {
	data      *T
	fetchedAt time.Time
}

// Service fetches and caches school-life data. Entries are valid for the
// rest of the local day they were fetched on; on upstream failure the stale
// entry is served instead of an error when one exists.
type Service struct {
	neis     conf.NEISSettings
	lat, lon float64
	loc      *time.Location
	client   *http.Client
	log      logger.Logger

	mu      sync.Mutex
	meal    cacheEntry[MealCards]
	weather cacheEntry[Weather]

	// now is replaceable in tests.
	now func() time.Time
}

// New creates the school-life service.
func New(cfg conf.SchoolLifeSettings, neis conf.NEISSettings, loc *time.Location, log logger.Logger) *Service {
	if loc == nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return &Service{
		neis:   neis,
		lat:    cfg.Latitude,
		lon:    cfg.Longitude,
		loc:    loc,
		client: &http.Client{Timeout: mealTimeout},
		log:    log,
		now:    time.Now,
	}
}

// Meal returns today's meal cards.
func (s *Service) Meal(ctx context.Context) (*MealCards, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	if s.meal.data != nil && sameDay(s.meal.fetchedAt, now, s.loc) {
		return s.meal.data, nil
	}

	cards, err := s.fetchMeal(ctx, now)
	if err != nil {
		if s.meal.data != nil {
			s.log.Warn("meal fetch failed, serving stale data", logger.Error(err))
			return s.meal.data, nil
		}
		return nil, err
	}
	s.meal = cacheEntry[MealCards]{data: cards, fetchedAt: now}
	return cards, nil
}

// Weather returns today's forecast summary.
func (s *Service) Weather(ctx context.Context) (*Weather, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	if s.weather.data != nil && sameDay(s.weather.fetchedAt, now, s.loc) {
		return s.weather.data, nil
	}

	w, err := s.fetchWeather(ctx)
	if err != nil {
		if s.weather.data != nil {
			s.log.Warn("weather fetch failed, serving stale data", logger.Error(err))
			return s.weather.data, nil
		}
		return nil, err
	}
	s.weather = cacheEntry[Weather]{data: w, fetchedAt: now}
	return w, nil
}

func (s *Service) fetchMeal(ctx context.Context, now time.Time) (*MealCards, error) {
	today := now.Format("20060102")
	params := url.Values{}
	params.Set("Type", "json")
	params.Set("ATPT_OFCDC_SC_CODE", s.neis.OfficeCode)
	params.Set("SD_SCHUL_CODE", s.neis.SchoolCode)
	params.Set("MLSV_YMD", today)
	if s.neis.Key != "" {
		params.Set("KEY", s.neis.Key)
	}

	endpoint := strings.TrimSuffix(s.neis.BaseURL, "/") + "/mealServiceDietInfo?" + params.Encode()
	body, err := s.getJSON(ctx, endpoint, mealTimeout)
	if err != nil {
		return nil, fmt.Errorf("meal fetch failed: %w", err)
	}

	cards := &MealCards{Date: today}
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("malformed meal response: %w", err)
	}
	table, err := root.GetObjectArray("mealServiceDietInfo")
	if err != nil {
		// No meal service today.
		return cards, nil
	}
	for _, part := range table {
		rows, err := part.GetObjectArray("row")
		if err != nil {
			continue
		}
		for _, row := range rows {
			meal, _ := row.GetString("MMEAL_SC_NM")
			items, _ := row.GetString("DDISH_NM")
			if meal == "" || items == "" {
				continue
			}
			// Dish lists arrive as HTML fragments with <br/> separators
			// and entity-encoded ampersands.
			clean := strings.ReplaceAll(html2text.HTML2Text(items), "\r\n", "\n")
			switch {
			case strings.Contains(meal, "조식"):
				cards.Breakfast = clean
			case strings.Contains(meal, "중식"):
				cards.Lunch = clean
			case strings.Contains(meal, "석식"):
				cards.Dinner = clean
			}
		}
	}
	return cards, nil
}

func (s *Service) fetchWeather(ctx context.Context) (*Weather, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", s.lat))
	params.Set("longitude", fmt.Sprintf("%.4f", s.lon))
	params.Set("current_weather", "true")
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	params.Set("timezone", s.loc.String())

	body, err := s.getJSON(ctx, openMeteoURL+"?"+params.Encode(), weatherTimeout)
	if err != nil {
		return nil, fmt.Errorf("weather fetch failed: %w", err)
	}

	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("malformed weather response: %w", err)
	}

	w := &Weather{}
	if current, err := root.GetObject("current_weather"); err == nil {
		w.Temperature, _ = current.GetFloat64("temperature")
		if code, err := current.GetNumber("weathercode"); err == nil {
			w.Desc = code.String()
		}
	}
	w.High = firstDaily(root, "temperature_2m_max")
	w.Low = firstDaily(root, "temperature_2m_min")
	w.Rain = firstDaily(root, "precipitation_probability_max")
	return w, nil
}

func (s *Service) getJSON(ctx context.Context, endpoint string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// sameDay reports whether both times fall on the same local calendar day.
func sameDay(a, b time.Time, loc *time.Location) bool {
	return a.In(loc).Format("20060102") == b.In(loc).Format("20060102")
}

// firstDaily reads the first element of a daily forecast array.
func firstDaily(root *jason.Object, field string) float64 {
	values, err := root.GetValueArray("daily", field)
	if err != nil || len(values) == 0 {
		return 0
	}
	f, err := values[0].Float64()
	if err != nil {
		return 0
	}
	return f
}
