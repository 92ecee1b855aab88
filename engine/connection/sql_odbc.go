//go:build cgo

package connection

// The ODBC driver requires cgo; register it only when cgo is enabled.
import _ "github.com/alexbrainman/odbc"
