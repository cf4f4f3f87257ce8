package hitcounter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metaphi-org/go-hit-counter/hitcounter/datastore"
)

type Granularity string

const GranularitySecond Granularity = "Second"
const GranularityMinute Granularity = "Minute"
const GranularityHour Granularity = "Hour"
const GranularityDay Granularity = "Day"
const GranularityWeek Granularity = "Week"
const GranularityMonth Granularity = "Month"

var expiryMap = map[Granularity]time.Duration{
	GranularitySecond: 1 * time.Second,
	GranularityMinute: 1 * time.Minute,
	GranularityHour:   1 * time.Hour,
	GranularityDay:    24 * time.Hour,
	GranularityWeek:   7 * 24 * time.Hour,
	GranularityMonth:  30 * 24 * time.Hour,
}

// ParseGranularity accepts a granularity name in any case, e.g. "minute".
func ParseGranularity(s string) (Granularity, error) {
	for g := range expiryMap {
		if strings.EqualFold(string(g), s) {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// WindowKey returns the counter key for the window of granularity containing t.
// The key expires together with its window.
func WindowKey(t time.Time, name string, granularity Granularity) datastore.KeyConfig {
	var timeString string
	currentTime := t.UTC()

	switch granularity {
	case GranularitySecond:
		timeString = currentTime.Format("20060102150405")
	case GranularityMinute:
		timeString = currentTime.Format("200601021504")
	case GranularityHour:
		timeString = currentTime.Format("2006010215")
	case GranularityDay:
		timeString = currentTime.Format("20060102")
	case GranularityWeek:
		y, w := currentTime.ISOWeek()
		timeString = fmt.Sprintf("%d_W%02d", y, w)
	case GranularityMonth:
		timeString = currentTime.Format("200601")
	}

	nameHash := sha256.Sum256([]byte(name))

	return datastore.KeyConfig{
		Key:         fmt.Sprintf("hitcounter:%x:%s:%s", nameHash, strings.ToUpper(string(granularity)), timeString),
		MaxLifespan: expiryMap[granularity],
	}
}

type WindowResult struct {
	Name        string
	Granularity Granularity
	Count       int64
	Err         error
}

func (wr WindowResult) String() string {
	if wr.Err != nil {
		return fmt.Sprintf("%s: unavailable per %s", wr.Name, wr.Granularity)
	}
	return fmt.Sprintf("%s: %d per %s", wr.Name, wr.Count, wr.Granularity)
}

type WindowResults []WindowResult

func (wrs WindowResults) Summary() string {
	msgs := make([]string, len(wrs))
	for i, wr := range wrs {
		msgs[i] = wr.String()
	}
	return strings.Join(msgs, "\n")
}

// CountWindows counts one hit of name in the current window of every granularity.
// Every window is attempted; failures are logged and returned together.
func (c *Counter) CountWindows(
	ctx context.Context,
	name string,
	granularities []Granularity,
	maxRetries int,
) (WindowResults, error) {
	now := time.Now()
	results := make(WindowResults, len(granularities))

	var errs *multierror.Error
	for i, g := range granularities {
		results[i].Name = name
		results[i].Granularity = g

		count, err := c.IncrementKey(ctx, WindowKey(now, name, g), maxRetries)
		if err != nil {
			c.logger.Error("unable to increment window", "name", name, "granularity", g, "error", err)
			results[i].Err = err
			errs = multierror.Append(errs, fmt.Errorf("%s window: %w", strings.ToLower(string(g)), err))
			continue
		}
		results[i].Count = count
	}

	return results, errs.ErrorOrNil()
}
