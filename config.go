package wherobots

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	wberrors "github.com/wherobots/wherobots-sql-go/internal/errors"
	"github.com/wherobots/wherobots-sql-go/internal/protocol"
)

// Runtime selects the size of the remote compute runtime backing a session.
type Runtime string

const (
	RuntimeTiny    Runtime = "tiny"
	RuntimeSmall   Runtime = "small"
	RuntimeMedium  Runtime = "medium"
	RuntimeLarge   Runtime = "large"
	RuntimeXLarge  Runtime = "x-large"
	Runtime2XLarge Runtime = "2x-large"
	Runtime4XLarge Runtime = "4x-large"
)

// GeometryRepresentation selects the encoding of geometry columns in results.
type GeometryRepresentation string

const (
	GeometryWKT     GeometryRepresentation = "wkt"
	GeometryWKB     GeometryRepresentation = "wkb"
	GeometryEWKT    GeometryRepresentation = "ewkt"
	GeometryEWKB    GeometryRepresentation = "ewkb"
	GeometryGeoJSON GeometryRepresentation = "geojson"
)

const (
	DefaultHost   = "api.cloud.wherobots.com"
	DefaultRegion = "aws-us-west-2"

	// the one results encoding and compression the service supports today
	ResultsFormatJSON = "json"
	CompressionBrotli = "brotli"

	apiKeyEnv = "WHEROBOTS_API_KEY"
)

type config struct {
	Host            string
	APIKey          string
	Region          string
	Runtime         Runtime
	ResultsFormat   string
	DataCompression string
	Geometry        GeometryRepresentation
	ProtocolVersion string
	RequestTimeout  time.Duration

	// retryBackoff overrides the retry engine's backoff schedule for both the
	// provisioning calls and the channel dial. Tests use it to avoid real
	// sleeps; nil keeps the jittered default.
	retryBackoff func(attempt int) time.Duration
}

func newConfigWithDefaults() *config {
	return &config{
		Host:            DefaultHost,
		Region:          DefaultRegion,
		Runtime:         RuntimeTiny,
		ResultsFormat:   ResultsFormatJSON,
		DataCompression: CompressionBrotli,
		Geometry:        GeometryWKT,
		ProtocolVersion: protocol.DefaultVersion,
		RequestTimeout:  30 * time.Second,
	}
}

func (c *config) DeepCopy() *config {
	if c == nil {
		return nil
	}

	return &config{
		Host:            c.Host,
		APIKey:          c.APIKey,
		Region:          c.Region,
		Runtime:         c.Runtime,
		ResultsFormat:   c.ResultsFormat,
		DataCompression: c.DataCompression,
		Geometry:        c.Geometry,
		ProtocolVersion: c.ProtocolVersion,
		RequestTimeout:  c.RequestTimeout,
		retryBackoff:    c.retryBackoff,
	}
}

func (c *config) baseURL() string {
	// local development and test hosts are not behind TLS
	if strings.HasPrefix(c.Host, "localhost") || strings.HasPrefix(c.Host, "127.0.0.1") {
		return "http://" + c.Host
	}
	return "https://" + c.Host
}

var validRuntimes = map[Runtime]bool{
	RuntimeTiny: true, RuntimeSmall: true, RuntimeMedium: true, RuntimeLarge: true,
	RuntimeXLarge: true, Runtime2XLarge: true, Runtime4XLarge: true,
}

var validGeometries = map[GeometryRepresentation]bool{
	GeometryWKT: true, GeometryWKB: true, GeometryEWKT: true, GeometryEWKB: true, GeometryGeoJSON: true,
}

// resolve finalizes the configuration before any network call: the API key
// falls back to the environment (a .env file is honored) exactly once here,
// and every option is validated.
func (c *config) resolve() error {
	if c.APIKey == "" {
		_ = godotenv.Load()
		c.APIKey = os.Getenv(apiKeyEnv)
	}
	if c.APIKey == "" {
		return wberrors.NewConfigError(wberrors.ErrMissingAPIKey, nil)
	}
	if !validRuntimes[c.Runtime] {
		return wberrors.NewConfigError(fmt.Sprintf("%s %q", wberrors.ErrInvalidRuntime, c.Runtime), nil)
	}
	if c.Region != DefaultRegion {
		return wberrors.NewConfigError(fmt.Sprintf("%s %q, the only supported region is %q", wberrors.ErrInvalidRegion, c.Region, DefaultRegion), nil)
	}
	if c.ResultsFormat != ResultsFormatJSON {
		return wberrors.NewConfigError(fmt.Sprintf("%s %q", wberrors.ErrInvalidResultsFormat, c.ResultsFormat), nil)
	}
	if c.DataCompression != CompressionBrotli {
		return wberrors.NewConfigError(fmt.Sprintf("%s %q", wberrors.ErrInvalidDataCompression, c.DataCompression), nil)
	}
	if !validGeometries[c.Geometry] {
		return wberrors.NewConfigError(fmt.Sprintf("%s %q", wberrors.ErrInvalidGeometry, c.Geometry), nil)
	}
	if err := protocol.ParseVersion(c.ProtocolVersion); err != nil {
		return wberrors.NewConfigError(fmt.Sprintf("%s %q", wberrors.ErrInvalidProtocolVersion, c.ProtocolVersion), err)
	}
	return nil
}

// Option configures a connection before it is established.
type Option func(*config)

// WithAPIKey sets the access credential. When absent the WHEROBOTS_API_KEY
// environment variable is used.
func WithAPIKey(key string) Option {
	return func(c *config) { c.APIKey = key }
}

// WithHost overrides the provisioning API host.
func WithHost(host string) Option {
	return func(c *config) { c.Host = host }
}

// WithRegion selects the compute region. Only DefaultRegion is supported.
func WithRegion(region string) Option {
	return func(c *config) { c.Region = region }
}

// WithRuntime selects the runtime size for the provisioned session.
func WithRuntime(r Runtime) Option {
	return func(c *config) { c.Runtime = r }
}

// WithResultsFormat sets the results encoding. Only ResultsFormatJSON is
// supported.
func WithResultsFormat(format string) Option {
	return func(c *config) { c.ResultsFormat = format }
}

// WithDataCompression sets the results compression. Only CompressionBrotli is
// supported.
func WithDataCompression(compression string) Option {
	return func(c *config) { c.DataCompression = compression }
}

// WithGeometryRepresentation sets how geometry columns are encoded in results.
// Defaults to the human-readable GeometryWKT.
func WithGeometryRepresentation(g GeometryRepresentation) Option {
	return func(c *config) { c.Geometry = g }
}

// WithProtocolVersion pins the channel protocol version. Defaults to the
// newest supported version; cancel notices require 1.1.0 or newer.
func WithProtocolVersion(version string) Option {
	return func(c *config) { c.ProtocolVersion = version }
}

// WithRequestTimeout bounds each individual provisioning HTTP attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.RequestTimeout = d }
}
