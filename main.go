package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-collab-session/server"
	"github.com/alimasry/go-collab-session/store"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn, error")
	autosave := flag.Duration("autosave", 3*time.Second, "per-connection autosave interval (0 disables)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithField("error", err).Warn("failed to load .env")
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithField("loglevel", *logLevel).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	st, err := store.FromEnv()
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to initialize storage")
	}

	hub := server.NewHub(st, *autosave)
	handler := server.NewHandler(hub, st)
	srv := &http.Server{Addr: *addr, Handler: handler}

	go func() {
		logrus.WithField("addr", *addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	logrus.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithField("error", err).Error("shutdown error")
	}
}
