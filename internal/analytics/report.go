// Package analytics summarizes a user's scan history for the dashboard.
package analytics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/durianscan/internal/models"
)

type TimeRange string

const (
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeYear  TimeRange = "year"
)

const (
	day         = 24 * time.Hour
	week        = 7 * day
	seriesDays  = 7
	noVariety   = "N/A"
	RecentLimit = 10
)

// ParseTimeRange accepts week, month or year. Anything else falls back to month.
func ParseTimeRange(s string) TimeRange {
	switch TimeRange(strings.ToLower(strings.TrimSpace(s))) {
	case RangeWeek:
		return RangeWeek
	case RangeYear:
		return RangeYear
	default:
		return RangeMonth
	}
}

// Start returns the inclusive lower bound of the range ending at now.
func (r TimeRange) Start(now time.Time) time.Time {
	switch r {
	case RangeWeek:
		return now.Add(-week)
	case RangeYear:
		return now.Add(-365 * day)
	default:
		return now.Add(-30 * day)
	}
}

// FetchSince returns how far back scans must be loaded to build a report
// for r: the range itself, the two weeks used for growth and the daily series.
func FetchSince(r TimeRange, now time.Time) time.Time {
	since := r.Start(now)
	if twoWeeks := now.Add(-2 * week); twoWeeks.Before(since) {
		since = twoWeeks
	}
	if first := startOfDay(now).Add(-(seriesDays - 1) * day); first.Before(since) {
		since = first
	}
	return since
}

type Stats struct {
	TotalScans         int     `json:"total_scans"`
	ExportReadyPercent float64 `json:"export_ready_percent"`
	RejectedPercent    float64 `json:"rejected_percent"`
	AvgQuality         float64 `json:"avg_quality"`
	TopVariety         string  `json:"top_variety"`
	WeeklyGrowth       float64 `json:"weekly_growth"`
}

type DailyPoint struct {
	Day     string  `json:"day"`
	Date    string  `json:"date"`
	Scans   int     `json:"scans"`
	Quality float64 `json:"quality"`
}

type Bucket struct {
	Range      string  `json:"range"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type RecentScan struct {
	ID           uuid.UUID         `json:"id"`
	Variety      string            `json:"variety"`
	Quality      float64           `json:"quality"`
	Status       models.ScanStatus `json:"status"`
	Time         string            `json:"time"`
	ImageURL     string            `json:"image_url"`
	ThumbnailURL string            `json:"thumbnail_url"`
	CreatedAt    time.Time         `json:"created_at"`
	DurianCount  int               `json:"durian_count"`
	Confidence   float64           `json:"confidence"`
}

type Report struct {
	Stats               Stats        `json:"stats"`
	WeeklyData          []DailyPoint `json:"weekly_data"`
	QualityDistribution []Bucket     `json:"quality_distribution"`
	RecentScans         []RecentScan `json:"recent_scans"`
	TimeRange           TimeRange    `json:"time_range"`
}

// Build assembles the dashboard report. history must hold every scan of the
// user created at or after FetchSince(r, now); recent holds the newest scans
// for the activity list.
func Build(history, recent []models.ScanRecord, r TimeRange, now time.Time) Report {
	inRange := since(history, r.Start(now))

	recentScans := make([]RecentScan, 0, len(recent))
	for _, rec := range recent {
		recentScans = append(recentScans, RecentScan{
			ID:           rec.ID,
			Variety:      rec.Variety,
			Quality:      rec.QualityScore,
			Status:       rec.Status,
			Time:         TimeAgo(rec.CreatedAt, now),
			ImageURL:     rec.ImageURL,
			ThumbnailURL: rec.ThumbnailURL,
			CreatedAt:    rec.CreatedAt,
			DurianCount:  rec.DurianCount,
			Confidence:   rec.Confidence,
		})
	}

	return Report{
		Stats:               ComputeStats(inRange, history, now),
		WeeklyData:          DailySeries(history, now),
		QualityDistribution: Distribution(inRange),
		RecentScans:         recentScans,
		TimeRange:           r,
	}
}

// ComputeStats aggregates the scans in range. Weekly growth compares the last
// seven days against the seven before them and is taken from history.
func ComputeStats(inRange, history []models.ScanRecord, now time.Time) Stats {
	if len(inRange) == 0 {
		return Stats{TopVariety: noVariety}
	}

	var exportReady, rejected int
	var quality float64
	varieties := make(map[string]int)
	var order []string
	for _, s := range inRange {
		switch s.Status {
		case models.StatusExportReady:
			exportReady++
		case models.StatusRejected:
			rejected++
		}
		quality += s.QualityScore

		v := s.Variety
		if v == "" {
			v = models.UnknownVariety
		}
		if _, ok := varieties[v]; !ok {
			order = append(order, v)
		}
		varieties[v]++
	}

	top := noVariety
	best := 0
	for _, v := range order {
		if varieties[v] > best {
			top, best = v, varieties[v]
		}
	}

	total := float64(len(inRange))
	return Stats{
		TotalScans:         len(inRange),
		ExportReadyPercent: round1(float64(exportReady) / total * 100),
		RejectedPercent:    round1(float64(rejected) / total * 100),
		AvgQuality:         round1(quality / total),
		TopVariety:         top,
		WeeklyGrowth:       weeklyGrowth(history, now),
	}
}

func weeklyGrowth(history []models.ScanRecord, now time.Time) float64 {
	weekAgo := now.Add(-week)
	twoWeeksAgo := now.Add(-2 * week)

	var thisWeek, lastWeek int
	for _, s := range history {
		switch {
		case !s.CreatedAt.Before(weekAgo):
			thisWeek++
		case !s.CreatedAt.Before(twoWeeksAgo):
			lastWeek++
		}
	}

	if lastWeek == 0 {
		if thisWeek > 0 {
			return 100
		}
		return 0
	}
	return round1(float64(thisWeek-lastWeek) / float64(lastWeek) * 100)
}

// DailySeries returns one point per calendar day (UTC) for the last seven
// days, oldest first, today included.
func DailySeries(history []models.ScanRecord, now time.Time) []DailyPoint {
	today := startOfDay(now)
	points := make([]DailyPoint, 0, seriesDays)

	for i := seriesDays - 1; i >= 0; i-- {
		start := today.Add(-time.Duration(i) * day)
		end := start.Add(day)

		var n int
		var quality float64
		for _, s := range history {
			at := s.CreatedAt.UTC()
			if !at.Before(start) && at.Before(end) {
				n++
				quality += s.QualityScore
			}
		}

		avg := 0.0
		if n > 0 {
			avg = round1(quality / float64(n))
		}
		points = append(points, DailyPoint{
			Day:     start.Weekday().String()[:3],
			Date:    start.Format("2006-01-02"),
			Scans:   n,
			Quality: avg,
		})
	}
	return points
}

var buckets = []struct {
	label    string
	min, max float64
}{
	{"90-100", 90, math.Inf(1)},
	{"80-89", 80, 90},
	{"70-79", 70, 80},
	{"0-69", math.Inf(-1), 70},
}

// Distribution buckets quality scores. Buckets are half-open so fractional
// scores such as 89.5 are always counted exactly once.
func Distribution(inRange []models.ScanRecord) []Bucket {
	counts := make([]int, len(buckets))
	for _, s := range inRange {
		for i, b := range buckets {
			if s.QualityScore >= b.min && s.QualityScore < b.max {
				counts[i]++
				break
			}
		}
	}

	total := len(inRange)
	if total == 0 {
		total = 1
	}

	out := make([]Bucket, len(buckets))
	for i, b := range buckets {
		out[i] = Bucket{
			Range:      b.label,
			Count:      counts[i],
			Percentage: round1(float64(counts[i]) / float64(total) * 100),
		}
	}
	return out
}

// TimeAgo renders the age of t relative to now for the activity list.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	d := now.Sub(t)
	switch {
	case d >= day:
		return fmt.Sprintf("%d days ago", int(d/day))
	case d > time.Hour:
		return fmt.Sprintf("%d hrs ago", int(d/time.Hour))
	case d > time.Minute:
		return fmt.Sprintf("%d min ago", int(d/time.Minute))
	default:
		return "Just now"
	}
}

func since(scans []models.ScanRecord, start time.Time) []models.ScanRecord {
	out := make([]models.ScanRecord, 0, len(scans))
	for _, s := range scans {
		if !s.CreatedAt.Before(start) {
			out = append(out, s)
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// round1 rounds to one decimal place, exact halves to even.
func round1(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil {
		return v
	}
	return r
}
