package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "FinSeries/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns handler panics into a logged 500.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					l.Error("panic recovered",
						applogger.Error(perr),
						applogger.String("route", c.Path()),
						applogger.String("request_id", requestID(c)),
						applogger.String("stack", string(debug.Stack())),
					)
					if c.Response().Committed {
						return
					}
					err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":     http.StatusInternalServerError,
						"message":    http.StatusText(http.StatusInternalServerError),
						"request_id": requestID(c),
					})
				}
			}()
			return next(c)
		}
	}
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}
