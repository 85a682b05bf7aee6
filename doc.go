/*
Package wherobots implements the Go client for Wherobots spatial SQL.

# Usage

Connect() provisions a SQL session (create, then poll until the runtime is
ready), upgrades it to a persistent channel and returns a ready Connection:

	import (
		"context"

		wherobots "github.com/wherobots/wherobots-sql-go"
	)

	func main() {
		ctx := context.Background()
		conn, err := wherobots.Connect(ctx,
			wherobots.WithAPIKey("<api_key>"),
			wherobots.WithRuntime(wherobots.RuntimeTiny),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()

		res, err := conn.Execute(ctx, "SHOW SCHEMAS IN wherobots_open_data")
		if err != nil {
			log.Fatal(err)
		}
		for _, row := range res.Rows {
			fmt.Println(row...)
		}
	}

The API key may instead come from the WHEROBOTS_API_KEY environment variable
(a .env file is honored).

Supported options include:

  - WithAPIKey(<key> string): Sets the access credential. Mandatory unless WHEROBOTS_API_KEY is set
  - WithRuntime(<runtime> Runtime): Selects the runtime size for the session. Default is RuntimeTiny
  - WithRegion(<region> string): Selects the compute region. Default (and only supported value) is DefaultRegion
  - WithGeometryRepresentation(<g> GeometryRepresentation): Encoding of geometry columns in results. Default is GeometryWKT
  - WithProtocolVersion(<version> string): Pins the channel protocol version. Cancel notices require 1.1.0 or newer
  - WithRequestTimeout(<d> time.Duration): Bounds each provisioning HTTP attempt. Default is 30s

# Execution

Connection.Execute submits a statement over the session channel and awaits its
result. Calls are safe to issue concurrently; each one is correlated by its own
execution id and completes when its own responses arrive, in whatever order the
server produces them. Cancelling the context passed to Execute aborts only that
statement; when the negotiated protocol version supports it a best-effort
cancel notice is sent to the server.

# Errors

Errors can be classified with errors.Is against the sentinel values in the
errors subpackage, e.g. ConfigError, RequestError, SessionFailure,
ExecutionError and OperationAborted.
*/
package wherobots
