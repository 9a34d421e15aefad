package location

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultNominatimURL   = "https://nominatim.openstreetmap.org/reverse"
	DefaultGeocodeTimeout = 5 * time.Second
	nominatimUserAgent    = "RealityQuest/1.0"
	nominatimLanguage     = "ja"
	nominatimZoom         = "16"
)

// Nominatim reverse geocodes coordinates with OpenStreetMap.
type Nominatim struct {
	endpoint   string
	httpClient *http.Client
}

type NominatimOption func(*Nominatim)

func WithNominatimURL(endpoint string) NominatimOption {
	return func(n *Nominatim) {
		if endpoint != "" {
			n.endpoint = endpoint
		}
	}
}

func NewNominatim(opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		endpoint: DefaultNominatimURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultGeocodeTimeout,
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     *struct {
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		Quarter       string `json:"quarter"`
		State         string `json:"state"`
	} `json:"address"`
}

// ReverseGeocode returns a short "state city area" address.
func (n *Nominatim) ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error) {
	ctx, span := tracer.Start(ctx, "location.reverse_geocode")
	defer span.End()

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(latitude, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(longitude, 'f', -1, 64))
	query.Set("format", "json")
	query.Set("accept-language", nominatimLanguage)
	query.Set("zoom", nominatimZoom)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create geocode request")
	}
	req.Header.Set("User-Agent", nominatimUserAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", goerr.Wrap(err, "geocode request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", goerr.New("geocode request failed", goerr.V("status", resp.StatusCode))
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", goerr.Wrap(err, "failed to decode geocode response")
	}
	return formatAddress(body), nil
}

func formatAddress(body nominatimResponse) string {
	if body.Address == nil {
		return body.DisplayName
	}

	addr := body.Address
	area := firstNonEmpty(addr.Suburb, addr.Neighbourhood, addr.Quarter, addr.Town, addr.Village)
	parts := make([]string, 0, 3)
	for _, part := range []string{addr.State, addr.City, area} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return body.DisplayName
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
