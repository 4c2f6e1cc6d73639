package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

const defaultIngestionEndpoint = "https://dc.services.visualstudio.com"

// ConnectionString is the parsed form of an Application Insights connection
// string.
type ConnectionString struct {
	InstrumentationKey string
	IngestionEndpoint  string
}

// TrackURL is the ingestion endpoint the SDK posts batches to.
func (c ConnectionString) TrackURL() string {
	endpoint := strings.TrimRight(c.IngestionEndpoint, "/")
	if endpoint == "" {
		endpoint = defaultIngestionEndpoint
	}
	return endpoint + "/v2/track"
}

// ParseConnectionString reads "Key=Value;Key=Value" pairs. Keys are case
// insensitive and unknown keys are ignored.
func ParseConnectionString(raw string) (ConnectionString, error) {
	var parsed ConnectionString

	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("connection string segment %q has no '='", pair)
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "instrumentationkey":
			parsed.InstrumentationKey = strings.TrimSpace(value)
		case "ingestionendpoint":
			parsed.IngestionEndpoint = strings.TrimSpace(value)
		}
	}

	if parsed.InstrumentationKey == "" {
		return ConnectionString{}, errors.New("connection string has no InstrumentationKey")
	}

	return parsed, nil
}
