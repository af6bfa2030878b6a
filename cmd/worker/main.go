package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/dogs-api/internal/config"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/echoutil"
	"github.com/Brownie44l1/dogs-api/internal/metrics"
	"github.com/Brownie44l1/dogs-api/internal/model"
	"github.com/Brownie44l1/dogs-api/internal/ollama"
	"github.com/Brownie44l1/dogs-api/internal/tasks"
)

func newClassifier(conf config.ModelConfig) (model.Classifier, error) {
	var labels []string
	if conf.LabelsPath != "" {
		if _, err := os.Stat(conf.LabelsPath); err == nil {
			l, err := model.LoadLabels(conf.LabelsPath)
			if err != nil {
				return nil, err
			}
			labels = l
		}
	}

	switch strings.ToLower(conf.Backend) {
	case "ollama":
		if len(labels) == 0 {
			return nil, fmt.Errorf("the ollama backend needs a labels file (model.labelsPath)")
		}
		return ollama.New(conf.Ollama.URL, conf.Ollama.Model, labels, conf.Ollama.Timeout)
	default:
		device, err := model.ParseDevice(conf.DefaultDevice)
		if err != nil {
			return nil, err
		}
		opts := []model.Option{
			model.WithSharedLibrary(conf.SharedLibrary),
			model.WithDefaultDevice(device),
		}
		if labels != nil {
			opts = append(opts, model.WithLabels(conf.LabelsPath))
		}
		return model.NewServer(conf.Path, conf.MetadataPath, opts...)
	}
}

func main() {
	configPath := flag.String("config", "", "config file path. defaults and environment are used without it")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	flag.Parse()

	logger := log.New("worker")
	lvl, ok := echoutil.ParseLevel(*loglevel)
	logger.SetLevel(lvl)
	if !ok {
		logger.Warnf("unknown loglevel: %s . fall-backed to warn", *loglevel)
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("can not read configuration: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the model is loaded once and shared by every task
	classifier, err := newClassifier(conf.Model)
	if err != nil {
		logger.Fatalf("can not load the model: %s", err)
	}
	defer classifier.Close()
	logger.Infof("model backend %s loaded with %d classes", conf.Model.Backend, len(classifier.Classes()))

	pool, err := db.Connect(ctx, conf.Database.URL, conf.Database.MinConns, conf.Database.MaxConns)
	if err != nil {
		logger.Fatalf("can not connect to the database: %s", err)
	}
	defer pool.Close()

	redisOpt, err := tasks.RedisOpt(conf.Queue.RedisURL)
	if err != nil {
		logger.Fatalf("can not read configuration: %s", err)
	}

	collector := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	processor := tasks.NewProcessor(db.NewImages(pool), classifier, collector, logger)
	mux := asynq.NewServeMux()
	processor.Register(mux)
	srv := tasks.NewServer(redisOpt, conf.Queue, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("worker started on queue %s with concurrency %d", conf.Queue.Name, conf.Queue.Concurrency)
		if err := srv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})

	if conf.Metrics.Addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		ms := &http.Server{Addr: conf.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			logger.Infof("metrics on %s/metrics", conf.Metrics.Addr)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			graceful, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(graceful)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Errorf("worker stopped: %s", err)
		os.Exit(1)
	}
}
