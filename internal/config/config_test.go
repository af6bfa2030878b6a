package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestDefaultIsValid(t *testing.T) {
	c := qt.New(t)
	conf := Default()
	c.Assert(conf.Validate(), qt.IsNil)

	limit, err := conf.UploadLimit()
	c.Assert(err, qt.IsNil)
	c.Assert(limit, qt.Equals, int64(10_000_000))
}

func TestLoadOverridesDefaults(t *testing.T) {
	c := qt.New(t)
	c.Setenv("DATABASE_URL", "")
	c.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	c.Assert(os.WriteFile(path, []byte(`
server:
  port: "9000"
  maxUploadSize: 2MiB
  predictWaitTimeout: 5s
queue:
  name: predictions
  concurrency: 4
  retention: 1h
model:
  backend: ollama
  defaultDevice: gpu
`), 0o644), qt.IsNil)

	conf, err := Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(conf.Server.Port, qt.Equals, "9000")
	c.Assert(conf.Server.PredictWaitTimeout, qt.Equals, 5*time.Second)
	c.Assert(conf.Queue.Name, qt.Equals, "predictions")
	c.Assert(conf.Queue.Concurrency, qt.Equals, 4)
	c.Assert(conf.Queue.Retention, qt.Equals, time.Hour)
	c.Assert(conf.Model.Backend, qt.Equals, "ollama")

	// untouched keys keep their defaults
	c.Assert(conf.Queue.MaxRetry, qt.Equals, 3)
	c.Assert(conf.Cache.StatsTTL, qt.Equals, 10*time.Second)

	limit, err := conf.UploadLimit()
	c.Assert(err, qt.IsNil)
	c.Assert(limit, qt.Equals, int64(2<<20))
}

func TestEnvOverrides(t *testing.T) {
	c := qt.New(t)
	conf := Default()
	env := map[string]string{
		"PORT":                  "8080",
		"DATABASE_URL":          "postgres://u:p@db/dogs",
		"CELERY_BROKER_URL":     "redis://broker:6379/1",
		"CELERY_RESULT_BACKEND": "redis://broker:6379/2",
		"REDIS_URL":             "",
	}
	conf.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	c.Assert(conf.Server.Port, qt.Equals, "8080")
	c.Assert(conf.Database.URL, qt.Equals, "postgres://u:p@db/dogs")
	c.Assert(conf.Queue.RedisURL, qt.Equals, "redis://broker:6379/1")
	c.Assert(conf.Cache.RedisURL, qt.Equals, "redis://broker:6379/2")
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Config)
		err    string
	}{
		"bad upload size":  {func(c *Config) { c.Server.MaxUploadSize = "lots" }, "server.maxUploadSize: .*"},
		"zero upload size": {func(c *Config) { c.Server.MaxUploadSize = "0B" }, "server.maxUploadSize must be positive"},
		"no concurrency":   {func(c *Config) { c.Queue.Concurrency = 0 }, "queue.concurrency must be positive"},
		"no retention":     {func(c *Config) { c.Queue.Retention = 0 }, "queue.retention must be positive.*"},
		"pool bounds":      {func(c *Config) { c.Database.MinConns = 20 }, "database.minConns .*"},
		"backend":          {func(c *Config) { c.Model.Backend = "torch" }, `model.backend must be onnx or ollama, not "torch"`},
		"device":           {func(c *Config) { c.Model.DefaultDevice = "tpu" }, "model.defaultDevice: .*"},
	} {
		t.Run(name, func(t *testing.T) {
			conf := Default()
			tc.mutate(conf)
			qt.Assert(t, conf.Validate(), qt.ErrorMatches, tc.err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	qt.Assert(t, err, qt.IsNotNil)
}
