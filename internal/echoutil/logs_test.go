package echoutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]log.Lvl{
		"debug": log.DEBUG,
		"INFO":  log.INFO,
		"":      log.WARN,
		"error": log.ERROR,
		"off":   log.OFF,
	} {
		got, ok := ParseLevel(name)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", name, got, ok)
		}
	}

	if got, ok := ParseLevel("verbose"); ok || got != log.WARN {
		t.Errorf("unknown level: got %v, %v", got, ok)
	}
}

func TestLogHandlerFuncPassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	expected := errors.New("boom")
	err := LogHandlerFunc(func(c echo.Context) error { return expected })(c)
	if !errors.Is(err, expected) {
		t.Errorf("error is not passed through: %v", err)
	}
}
