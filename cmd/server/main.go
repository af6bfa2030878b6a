package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/dogs-api/internal/config"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/echoutil"
	"github.com/Brownie44l1/dogs-api/internal/handlers"
	"github.com/Brownie44l1/dogs-api/internal/metrics"
	"github.com/Brownie44l1/dogs-api/internal/stats"
	"github.com/Brownie44l1/dogs-api/internal/tasks"
)

// newEcho builds the app with its logger ready; every startup and request
// error is logged through e.Logger.
func newEcho(loglevel string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	echoutil.SetLevel(e, loglevel)

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)
	e.Use(middleware.Recover())
	return e
}

func main() {
	configPath := flag.String("config", "", "config file path. defaults and environment are used without it")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	migrate := flag.Bool("migrate", false, "apply the database schema before serving")
	flag.Parse()

	e := newEcho(*loglevel)

	conf, err := config.Load(*configPath)
	if err != nil {
		e.Logger.Fatalf("can not read configuration: %s", err)
	}
	uploadLimit, err := conf.UploadLimit()
	if err != nil {
		e.Logger.Fatalf("can not read configuration: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     conf.Server.AllowOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	pool, err := db.Connect(ctx, conf.Database.URL, conf.Database.MinConns, conf.Database.MaxConns)
	if err != nil {
		e.Logger.Fatalf("can not connect to the database: %s", err)
	}
	defer pool.Close()
	if *migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			e.Logger.Fatalf("can not migrate the database: %s", err)
		}
		e.Logger.Info("database schema is up to date")
	}

	redisOpt, err := tasks.RedisOpt(conf.Queue.RedisURL)
	if err != nil {
		e.Logger.Fatalf("can not read configuration: %s", err)
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	collector := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	var cache stats.Cache
	if rc, err := stats.NewRedisCache(conf.Cache.RedisURL); err != nil {
		e.Logger.Warnf("stats are served without cache: %s", err)
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			e.Logger.Warnf("stats cache is not reachable yet: %s", err)
		}
		cache = rc
	}

	h := handlers.NewHandler(
		db.NewImages(pool),
		tasks.NewQueue(client, inspector, conf.Queue, collector),
		stats.NewSource(conf.Stats.HistoryPath, cache, conf.Cache.StatsTTL, e.Logger),
		handlers.Options{
			UploadLimit: uploadLimit,
			WaitTimeout: conf.Server.PredictWaitTimeout,
			Metrics:     collector,
		},
	)
	h.Register(e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.Logger.Infof("server starting on port %s", conf.Server.Port)
		if err := e.Start(":" + conf.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(graceful)
	})
	if err := g.Wait(); err != nil {
		e.Logger.Fatalf("server stopped: %s", err)
	}
}
