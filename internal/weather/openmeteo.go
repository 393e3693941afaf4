package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kyzlolabs/weatherbot/internal/observ"
)

// Client fetches forecasts for one location from Open-Meteo (deterministic +
// ensemble) and the NWS. The deterministic fetch is required; the other two
// degrade to absent data.
type Client struct {
	httpClient   *http.Client
	city         string
	lat          float64
	lon          float64
	timezone     string
	openMeteoURL string
	ensembleURL  string
	nwsURL       string
	userAgent    string
	now          func() time.Time
	locationFor  func(string) (*time.Location, error)
}

// ClientConfig holds construction parameters for the weather client.
type ClientConfig struct {
	City           string
	Lat            float64
	Lon            float64
	Timezone       string
	TimeoutSeconds int

	// Base URL overrides for tests.
	OpenMeteoURL string
	EnsembleURL  string
	NWSURL       string
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.OpenMeteoURL == "" {
		cfg.OpenMeteoURL = "https://api.open-meteo.com"
	}
	if cfg.EnsembleURL == "" {
		cfg.EnsembleURL = "https://ensemble-api.open-meteo.com"
	}
	if cfg.NWSURL == "" {
		cfg.NWSURL = "https://api.weather.gov"
	}
	return &Client{
		httpClient:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		city:         cfg.City,
		lat:          cfg.Lat,
		lon:          cfg.Lon,
		timezone:     cfg.Timezone,
		openMeteoURL: cfg.OpenMeteoURL,
		ensembleURL:  cfg.EnsembleURL,
		nwsURL:       cfg.NWSURL,
		userAgent:    "(weatherbot, contact@kyzlolabs.com)",
		now:          time.Now,
		locationFor:  time.LoadLocation,
	}
}

type nwsResult struct {
	high  *float64
	low   *float64
	short string
}

type deterministicResult struct {
	currentTemp  float64
	forecastHigh float64
	hourly       []HourlyPoint
}

type ensembleResult struct {
	summary     *Ensemble
	buckets     []Bucket
	memberHighs []float64
}

// Forecast joins the three independent sub-fetches. They share no ordering
// requirement, so they run concurrently.
func (c *Client) Forecast(ctx context.Context) (*Snapshot, error) {
	var (
		wg     sync.WaitGroup
		nws    *nwsResult
		det    deterministicResult
		detErr error
		ens    *ensembleResult
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		nws = c.fetchNWS(ctx)
	}()
	go func() {
		defer wg.Done()
		det, detErr = c.fetchDeterministic(ctx)
	}()
	go func() {
		defer wg.Done()
		ens = c.fetchEnsemble(ctx)
	}()
	wg.Wait()

	if detErr != nil {
		return nil, fmt.Errorf("open-meteo deterministic: %w", detErr)
	}

	snap := &Snapshot{
		City:         c.city,
		CurrentTempF: det.currentTemp,
		ForecastHigh: det.forecastHigh,
		Hourly:       det.hourly,
	}
	if nws != nil {
		snap.NWSForecastHigh = nws.high
		snap.NWSForecastLow = nws.low
		snap.NWSShortForecast = nws.short
	} else {
		observ.Warn("nws_unavailable", map[string]any{"city": c.city})
	}
	if ens != nil {
		snap.Ensemble = ens.summary
		snap.Buckets = ens.buckets
		snap.MemberHighs = ens.memberHighs
	} else {
		observ.Warn("ensemble_unavailable", map[string]any{"city": c.city})
	}
	snap.Confidence = confidenceFor(snap.Ensemble)
	return snap, nil
}

// localToday returns today's date string in the client's timezone; Open-Meteo
// hourly timestamps are returned in that zone.
func (c *Client) localToday() string {
	loc, err := c.locationFor(c.timezone)
	if err != nil {
		loc = time.UTC
	}
	return c.now().In(loc).Format("2006-01-02")
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchNWS resolves the gridpoint forecast and takes the first daytime high
// and first nighttime low. Any failure degrades to nil.
func (c *Client) fetchNWS(ctx context.Context) *nwsResult {
	var points struct {
		Properties struct {
			Forecast string `json:"forecast"`
		} `json:"properties"`
	}
	pointsURL := fmt.Sprintf("%s/points/%.4f,%.4f", c.nwsURL, c.lat, c.lon)
	if err := c.getJSON(ctx, pointsURL, &points); err != nil {
		observ.Warn("nws_points_failed", map[string]any{"city": c.city, "error": err.Error()})
		return nil
	}
	if points.Properties.Forecast == "" {
		return nil
	}

	var forecast struct {
		Properties struct {
			Periods []struct {
				IsDaytime     bool    `json:"isDaytime"`
				Temperature   float64 `json:"temperature"`
				ShortForecast string  `json:"shortForecast"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := c.getJSON(ctx, points.Properties.Forecast, &forecast); err != nil {
		observ.Warn("nws_forecast_failed", map[string]any{"city": c.city, "error": err.Error()})
		return nil
	}

	res := &nwsResult{}
	periods := forecast.Properties.Periods
	if len(periods) > 4 {
		periods = periods[:4]
	}
	for _, p := range periods {
		temp := p.Temperature
		if p.IsDaytime && res.high == nil {
			res.high = &temp
			res.short = p.ShortForecast
		} else if !p.IsDaytime && res.low == nil {
			res.low = &temp
		}
		if res.high != nil && res.low != nil {
			break
		}
	}
	return res
}

func (c *Client) fetchDeterministic(ctx context.Context) (deterministicResult, error) {
	q := url.Values{
		"latitude":         {fmt.Sprintf("%f", c.lat)},
		"longitude":        {fmt.Sprintf("%f", c.lon)},
		"hourly":           {"temperature_2m"},
		"current":          {"temperature_2m"},
		"temperature_unit": {"fahrenheit"},
		"timezone":         {c.timezone},
		"forecast_days":    {"2"},
	}
	var resp struct {
		Current struct {
			Temperature2m float64 `json:"temperature_2m"`
		} `json:"current"`
		Hourly struct {
			Time          []string  `json:"time"`
			Temperature2m []float64 `json:"temperature_2m"`
		} `json:"hourly"`
	}
	if err := c.getJSON(ctx, c.openMeteoURL+"/v1/forecast?"+q.Encode(), &resp); err != nil {
		return deterministicResult{}, err
	}

	today := c.localToday()
	res := deterministicResult{currentTemp: resp.Current.Temperature2m}
	dailyHigh := math.Inf(-1)
	for i, ts := range resp.Hourly.Time {
		if i >= len(resp.Hourly.Temperature2m) || !strings.HasPrefix(ts, today) {
			continue
		}
		temp := resp.Hourly.Temperature2m[i]
		if temp > dailyHigh {
			dailyHigh = temp
		}
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			continue
		}
		res.hourly = append(res.hourly, HourlyPoint{Time: t, TemperatureF: temp})
	}
	if math.IsInf(dailyHigh, -1) {
		return deterministicResult{}, fmt.Errorf("no hourly data for today")
	}
	res.forecastHigh = dailyHigh
	return res, nil
}

// fetchEnsemble collects per-member daily highs across the configured models
// and reduces them to summary statistics and a 2°F bucket table.
func (c *Client) fetchEnsemble(ctx context.Context) *ensembleResult {
	q := url.Values{
		"latitude":         {fmt.Sprintf("%f", c.lat)},
		"longitude":        {fmt.Sprintf("%f", c.lon)},
		"hourly":           {"temperature_2m"},
		"models":           {"icon_seamless,gfs_seamless,ecmwf_ifs025"},
		"temperature_unit": {"fahrenheit"},
		"timezone":         {c.timezone},
		"forecast_days":    {"2"},
	}
	var resp struct {
		Hourly map[string]json.RawMessage `json:"hourly"`
	}
	if err := c.getJSON(ctx, c.ensembleURL+"/v1/ensemble?"+q.Encode(), &resp); err != nil {
		observ.Warn("ensemble_fetch_failed", map[string]any{"city": c.city, "error": err.Error()})
		return nil
	}

	var times []string
	if raw, ok := resp.Hourly["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil
		}
	}
	today := c.localToday()
	var todayIdx []int
	for i, ts := range times {
		if strings.HasPrefix(ts, today) {
			todayIdx = append(todayIdx, i)
		}
	}

	var highs []float64
	for key, raw := range resp.Hourly {
		if key == "time" || !strings.HasPrefix(key, "temperature_2m") {
			continue
		}
		var temps []*float64
		if err := json.Unmarshal(raw, &temps); err != nil {
			continue
		}
		memberHigh := math.Inf(-1)
		for _, idx := range todayIdx {
			if idx < len(temps) && temps[idx] != nil && *temps[idx] > memberHigh {
				memberHigh = *temps[idx]
			}
		}
		if !math.IsInf(memberHigh, -1) {
			highs = append(highs, memberHigh)
		}
	}
	if len(highs) == 0 {
		return nil
	}
	sort.Float64s(highs)

	summary := summarize(highs)
	return &ensembleResult{
		summary:     summary,
		buckets:     BucketsFromHighs(highs),
		memberHighs: highs,
	}
}

func summarize(sortedHighs []float64) *Ensemble {
	n := len(sortedHighs)
	sum := 0.0
	for _, h := range sortedHighs {
		sum += h
	}
	mean := sum / float64(n)
	variance := 0.0
	for _, h := range sortedHighs {
		variance += (h - mean) * (h - mean)
	}
	variance /= float64(n)

	percentile := func(p float64) float64 {
		idx := int(math.Round(p / 100.0 * float64(n-1)))
		if idx > n-1 {
			idx = n - 1
		}
		return sortedHighs[idx]
	}
	return &Ensemble{
		MemberCount: n,
		MeanHigh:    mean,
		MinHigh:     sortedHighs[0],
		MaxHigh:     sortedHighs[n-1],
		StdDev:      math.Sqrt(variance),
		P10:         percentile(10),
		P25:         percentile(25),
		P75:         percentile(75),
		P90:         percentile(90),
	}
}

// BucketsFromHighs partitions the member highs into a contiguous 2°F grid and
// drops empty buckets. Bucket probabilities sum to 1 by construction.
func BucketsFromHighs(sortedHighs []float64) []Bucket {
	n := len(sortedHighs)
	if n == 0 {
		return nil
	}
	low := int(math.Floor(sortedHighs[0]/2.0))*2 - 2
	high := int(math.Ceil(sortedHighs[n-1]/2.0))*2 + 2

	var buckets []Bucket
	for temp := low; temp < high; temp += 2 {
		lower := float64(temp)
		upper := float64(temp + 2)
		count := 0
		for _, h := range sortedHighs {
			if h >= lower && h < upper {
				count++
			}
		}
		if count == 0 {
			continue
		}
		buckets = append(buckets, Bucket{
			Label:       fmt.Sprintf("%d-%d°F", temp, temp+2),
			Lower:       lower,
			Upper:       upper,
			Probability: float64(count) / float64(n),
		})
	}
	return buckets
}
