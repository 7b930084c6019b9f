package google

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/resilience"
)

// ServiceName keys this directory's usage rows.
const ServiceName = "google_places"

const metersPerMile = 1609.344

// UsageCounter persists calls per service and month.
type UsageCounter interface {
	MonthlyUsage(ctx context.Context, service, month string) (int, error)
	IncrementUsage(ctx context.Context, service, month string, n int) (int, error)
}

// Directory is the premium business directory backed by Places. Each
// search costs one call against a monthly limit kept in a UsageCounter.
type Directory struct {
	client Client
	usage  UsageCounter
	limit  int
	now    func() time.Time
}

// NewDirectory creates a Directory. monthlyLimit <= 0 disables searching.
func NewDirectory(client Client, usage UsageCounter, monthlyLimit int) *Directory {
	return &Directory{client: client, usage: usage, limit: monthlyLimit, now: time.Now}
}

func (d *Directory) month() string {
	return d.now().UTC().Format("2006-01")
}

// Usage reports this month's limit and calls made.
func (d *Directory) Usage(ctx context.Context) (model.Usage, error) {
	m := d.month()
	used, err := d.usage.MonthlyUsage(ctx, ServiceName, m)
	if err != nil {
		return model.Usage{}, eris.Wrap(err, "google: read usage")
	}
	return model.Usage{Month: m, Limit: d.limit, Used: used}, nil
}

// Search finds businesses around one point. A subcategory switches to a
// text search biased to the circle. Returns model.ErrQuotaExceeded when
// the monthly limit is spent or the API answers 429.
func (d *Directory) Search(ctx context.Context, q model.DirectoryQuery) ([]model.PremiumLocation, error) {
	u, err := d.Usage(ctx)
	if err != nil {
		return nil, err
	}
	if u.Remaining() == 0 {
		return nil, eris.Wrapf(model.ErrQuotaExceeded, "google: %d of %d calls used in %s", u.Used, u.Limit, u.Month)
	}

	area := Area{Circle: Circle{
		Center: LatLng{Latitude: q.Lat, Longitude: q.Lon},
		Radius: math.Min(q.RadiusMiles*metersPerMile, MaxRadiusMeters),
	}}
	count := q.MaxResults
	if count <= 0 || count > MaxResultCount {
		count = MaxResultCount
	}

	var resp *SearchResponse
	if q.Subcategory != "" {
		tr := TextRequest{TextQuery: textQuery(q), MaxResultCount: count, LocationBias: &area}
		if len(q.PlaceTypes) > 0 {
			tr.IncludedType = q.PlaceTypes[0]
		}
		resp, err = d.client.TextSearch(ctx, tr)
	} else {
		resp, err = d.client.SearchNearby(ctx, NearbyRequest{
			IncludedTypes:       q.PlaceTypes,
			MaxResultCount:      count,
			LocationRestriction: area,
			RankPreference:      "POPULARITY",
		})
	}

	// A request that reached the API is billed whatever the outcome.
	var se *resilience.StatusError
	reached := err == nil || errors.As(err, &se)
	if reached {
		if _, incErr := d.usage.IncrementUsage(ctx, ServiceName, u.Month, 1); incErr != nil {
			zap.L().Warn("google: record usage failed", zap.Error(incErr))
		}
	}
	if err != nil {
		if se != nil && se.StatusCode == http.StatusTooManyRequests {
			return nil, eris.Wrap(model.ErrQuotaExceeded, "google: rate limited")
		}
		return nil, eris.Wrap(err, "google: search")
	}

	out := make([]model.PremiumLocation, 0, len(resp.Places))
	for _, p := range resp.Places {
		out = append(out, toLocation(p, q.Category))
	}
	return out, nil
}

func textQuery(q model.DirectoryQuery) string {
	if strings.Contains(strings.ToLower(q.Subcategory), strings.ToLower(q.Category)) {
		return q.Subcategory
	}
	return q.Subcategory + " " + q.Category
}

func toLocation(p Place, category string) model.PremiumLocation {
	return model.PremiumLocation{
		ID:          p.ID,
		Name:        p.DisplayName.Text,
		Category:    category,
		Lat:         p.Location.Latitude,
		Lon:         p.Location.Longitude,
		Address:     p.FormattedAddress,
		Rating:      p.Rating,
		ReviewCount: p.UserRatingCount,
		PriceLevel:  priceLevel(p.PriceLevel),
		URL:         p.GoogleMapsURI,
	}
}

func priceLevel(level string) string {
	switch level {
	case "PRICE_LEVEL_FREE":
		return "Free"
	case "PRICE_LEVEL_INEXPENSIVE":
		return "$"
	case "PRICE_LEVEL_MODERATE":
		return "$$"
	case "PRICE_LEVEL_EXPENSIVE":
		return "$$$"
	case "PRICE_LEVEL_VERY_EXPENSIVE":
		return "$$$$"
	}
	return ""
}
