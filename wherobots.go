package wherobots

import "fmt"

const (
	ClientName    = "wherobots-sql-go"
	ClientVersion = "0.1.0"
)

func userAgent() string {
	return fmt.Sprintf("%s/%s", ClientName, ClientVersion)
}
