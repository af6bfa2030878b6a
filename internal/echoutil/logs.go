package echoutil

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func LogHandlerFunc(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		meth := c.Request().Method
		path := c.Request().URL
		begin := time.Now()
		c.Logger().Infof("< request %s %s", meth, path)

		err := next(c)

		c.Logger().Infof(
			"> response status = %d (for %s %s) in %v / error = %v",
			c.Response().Status, meth, path, time.Since(begin), err,
		)
		return err
	}
}

// ParseLevel maps debug, info, warn, error and off to gommon levels.
// Anything else is warn; ok reports whether the name was known.
func ParseLevel(name string) (lvl log.Lvl, ok bool) {
	switch strings.ToLower(name) {
	case "debug":
		return log.DEBUG, true
	case "info":
		return log.INFO, true
	case "warn", "":
		return log.WARN, true
	case "error":
		return log.ERROR, true
	case "off":
		return log.OFF, true
	}
	return log.WARN, false
}

func SetLevel(e *echo.Echo, loglevel string) {
	lvl, ok := ParseLevel(loglevel)
	e.Logger.SetLevel(lvl)
	if !ok {
		e.Logger.Warnf("unknown loglevel: %s . fall-backed to warn", loglevel)
	}
}
