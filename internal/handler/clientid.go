package handler

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/tracectrl/internal/response"
)

// HeaderClientID carries the caller's client id on log requests.
const HeaderClientID = "client-id"

const clientIDKey = "client_id"

// ClientID parses the client-id header into the request context.
// A malformed value is rejected; a missing one only when required is set.
func ClientID(required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(HeaderClientID))
			if raw == "" {
				if required {
					return response.Rejected(c, "missing client-id header")
				}
				return next(c)
			}
			id, err := parseID(raw)
			if err != nil {
				return response.Rejected(c, "client-id must be an integer")
			}
			c.Set(clientIDKey, id)
			return next(c)
		}
	}
}

// clientIDFrom returns the id stored by ClientID, or nil when none was sent.
func clientIDFrom(c echo.Context) *int32 {
	id, ok := c.Get(clientIDKey).(int32)
	if !ok {
		return nil
	}
	return &id
}

func parseID(raw string) (int32, error) {
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// remoteAddr is the peer address of the connection, ignoring forwarding headers.
func remoteAddr(c echo.Context) *netip.Addr {
	ap, err := netip.ParseAddrPort(c.Request().RemoteAddr)
	if err != nil {
		return nil
	}
	addr := ap.Addr().Unmap()
	return &addr
}
