package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	commonlog "vec_server/server/common/log"
	vecmanapp "vec_server/server/vecman/app"
)

func main() {
	_ = godotenv.Load()

	cfg := vecmanapp.LoadConfig()
	server, err := vecmanapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize vecman server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start vecman http server on :%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run vecman http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown vecman server gracefully: %v", err)
	}
}
