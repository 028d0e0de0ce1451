package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

const tempPrefix = "temp-"

// NewTempID returns a client-generated id of the form
// temp-<unix-millis>-<random> used while a create is in flight.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", tempPrefix, now.UnixMilli(), shortuuid.New()[:9])
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// NewLocalID returns an id for records that only ever live on the device.
func NewLocalID() string {
	return shortuuid.New()
}
