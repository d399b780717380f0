package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2world-go/internal/feed"
)

// Tracker follows a source through its read passes. Every pass rereads the
// input, so elapsed time, rate and ETA restart when the pass changes.
type Tracker struct {
	pass     feed.Pass
	start    time.Time
	baseline int64
}

// Progress is a snapshot of the current pass
type Progress struct {
	Pass    feed.Pass
	Scanned int64 // Input bytes read in this pass
	Total   int64
	Records int64 // Records handed to the workers in this pass
	Percent float64
	Elapsed time.Duration
	ETA     time.Duration
	Rate    float64 // Records per second
}

// Update records the source position and the running record count
func (t *Tracker) Update(pass feed.Pass, scanned, total, records int64) Progress {
	return t.updateAt(time.Now(), pass, scanned, total, records)
}

func (t *Tracker) updateAt(now time.Time, pass feed.Pass, scanned, total, records int64) Progress {
	if t.start.IsZero() || pass != t.pass {
		t.pass = pass
		t.start = now
		t.baseline = records
	}

	p := Progress{
		Pass:    pass,
		Scanned: scanned,
		Total:   total,
		Records: records - t.baseline,
		Elapsed: now.Sub(t.start),
	}

	secs := p.Elapsed.Seconds()
	if secs > 0 {
		p.Rate = float64(p.Records) / secs
	}
	if total > 0 {
		p.Percent = min(100*float64(scanned)/float64(total), 100)
	}
	if secs > 0 && scanned > 0 && scanned < total {
		left := float64(total-scanned) * secs / float64(scanned)
		p.ETA = time.Duration(left * float64(time.Second)).Round(time.Second)
	}
	return p
}

// Fields renders p for the progress log line
func (p Progress) Fields() []zap.Field {
	return []zap.Field{
		zap.Stringer("pass", p.Pass),
		zap.String("read", FormatBytes(p.Scanned)+" / "+FormatBytes(p.Total)),
		zap.Float64("percent", float64(int(p.Percent*10))/10),
		zap.String("eta", FormatETA(p.ETA)),
		zap.String("rate", FormatThroughput(p.Rate)),
	}
}

// FormatETA renders d as "1h 2m 3s", dropping leading zero units
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput renders a per-second rate with a K or M suffix
func FormatThroughput(perSec float64) string {
	for _, u := range []struct {
		div    float64
		suffix string
	}{{1e6, "M"}, {1e3, "K"}} {
		if perSec >= u.div {
			return fmt.Sprintf("%.1f%s/s", perSec/u.div, u.suffix)
		}
	}
	return fmt.Sprintf("%.0f/s", perSec)
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders n in binary units
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v, i := float64(n), 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, byteUnits[i])
}
