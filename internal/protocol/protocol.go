package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/fxamacker/cbor/v2"
)

// Message kinds exchanged on the session channel.
const (
	KindExecuteSQL      = "execute_sql"
	KindRetrieveResults = "retrieve_results"
	KindCancel          = "cancel"
	KindStateUpdated    = "state_updated"
	KindError           = "error"
	KindExecutionResult = "execution_result"
)

const StateSucceeded = "succeeded"

// Channel protocol versions. The version is appended to the channel URL path
// and negotiates per-version capabilities.
const (
	Version10      = "1.0.0"
	Version11      = "1.1.0"
	DefaultVersion = Version11
)

var minCancelVersion = semver.MustParse("1.1.0")

// ParseVersion validates a protocol version string.
func ParseVersion(version string) error {
	_, err := semver.StrictNewVersion(version)
	return err
}

// SupportsCancellation reports whether the negotiated protocol version accepts
// best-effort cancel messages.
func SupportsCancellation(version string) bool {
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return false
	}
	return !v.LessThan(minCancelVersion)
}

// WebsocketURL derives the channel address from the session's application URL:
// http(s) becomes ws(s) and the path is suffixed with the protocol version.
func WebsocketURL(appURL, version string) (string, error) {
	u, err := url.Parse(appURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported session app url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + version
	return u.String(), nil
}

// Frame is one inbound channel message: raw payload plus its framing. Text
// frames carry JSON, binary frames carry CBOR. Which framing the server picks
// for execution_result is a per-version capability, so both decode paths are
// kept.
type Frame struct {
	Binary bool
	Data   []byte
}

func (f Frame) decode(v any) error {
	if f.Binary {
		return cbor.Unmarshal(f.Data, v)
	}
	return json.Unmarshal(f.Data, v)
}

// Outbound messages. All requests are sent as JSON text frames.

type ExecuteSQLRequest struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"execution_id"`
	Statement   string `json:"statement"`
}

func NewExecuteSQLRequest(executionID, statement string) ExecuteSQLRequest {
	return ExecuteSQLRequest{Kind: KindExecuteSQL, ExecutionID: executionID, Statement: statement}
}

type RetrieveResultsRequest struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"execution_id"`
	Geometry    string `json:"geometry,omitempty"`
}

func NewRetrieveResultsRequest(executionID, geometry string) RetrieveResultsRequest {
	return RetrieveResultsRequest{Kind: KindRetrieveResults, ExecutionID: executionID, Geometry: geometry}
}

type CancelRequest struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"execution_id"`
}

func NewCancelRequest(executionID string) CancelRequest {
	return CancelRequest{Kind: KindCancel, ExecutionID: executionID}
}

// Inbound messages. Parse functions implement the validate-and-parse contract:
// the second return is false whenever the frame does not decode as the wanted
// kind or misses required fields. Unparseable or unrelated frames are never an
// error at this layer; the dispatcher just ignores them.

type StateUpdated struct {
	Kind        string `json:"kind" cbor:"kind"`
	ExecutionID string `json:"execution_id" cbor:"execution_id"`
	State       string `json:"state" cbor:"state"`
}

func ParseStateUpdated(f Frame) (StateUpdated, bool) {
	var m StateUpdated
	if err := f.decode(&m); err != nil {
		return StateUpdated{}, false
	}
	if m.Kind != KindStateUpdated || m.ExecutionID == "" || m.State == "" {
		return StateUpdated{}, false
	}
	return m, true
}

type ErrorMessage struct {
	Kind        string `json:"kind" cbor:"kind"`
	ExecutionID string `json:"execution_id" cbor:"execution_id"`
	Message     string `json:"message" cbor:"message"`
}

func ParseError(f Frame) (ErrorMessage, bool) {
	var m ErrorMessage
	if err := f.decode(&m); err != nil {
		return ErrorMessage{}, false
	}
	if m.Kind != KindError || m.ExecutionID == "" {
		return ErrorMessage{}, false
	}
	return m, true
}

// ResultsPayload carries the compressed, encoded tabular result of one
// operation. ResultBytes round-trips as a base64 string in JSON frames and as a
// native byte string in CBOR frames.
type ResultsPayload struct {
	ResultBytes []byte   `json:"result_bytes" cbor:"result_bytes"`
	Compression string   `json:"compression" cbor:"compression"`
	Format      string   `json:"format" cbor:"format"`
	Geometry    string   `json:"geometry" cbor:"geometry"`
	GeoColumns  []string `json:"geo_columns" cbor:"geo_columns"`
}

type ExecutionResult struct {
	Kind        string         `json:"kind" cbor:"kind"`
	ExecutionID string         `json:"execution_id" cbor:"execution_id"`
	State       string         `json:"state" cbor:"state"`
	Results     ResultsPayload `json:"results" cbor:"results"`
}

func ParseExecutionResult(f Frame) (ExecutionResult, bool) {
	var m ExecutionResult
	if err := f.decode(&m); err != nil {
		return ExecutionResult{}, false
	}
	if m.Kind != KindExecutionResult || m.ExecutionID == "" || m.Results.ResultBytes == nil {
		return ExecutionResult{}, false
	}
	return m, true
}
