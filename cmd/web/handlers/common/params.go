package common

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const maxMediaIDLength = 128

// ValidMediaID reports whether id can be used as a media id. Ids end up in
// route segments, job keys and object keys.
func ValidMediaID(id string) bool {
	return id != "" && len(id) <= maxMediaIDLength && !strings.ContainsAny(id, "/ \t\n\r")
}

// RequireMediaIDParam extracts a media id route parameter or returns a 400 error.
func RequireMediaIDParam(c echo.Context, param string) (string, error) {
	id := strings.TrimSpace(c.Param(param))
	if !ValidMediaID(id) {
		return "", ErrBadRequest("invalid " + param)
	}
	return id, nil
}
