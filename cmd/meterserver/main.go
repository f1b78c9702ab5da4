package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KarelPeeters/DigitalMeter/internal/adcio"
	"github.com/KarelPeeters/DigitalMeter/internal/config"
	"github.com/KarelPeeters/DigitalMeter/internal/datastore"
	"github.com/KarelPeeters/DigitalMeter/internal/download"
	"github.com/KarelPeeters/DigitalMeter/internal/ingress"
	"github.com/KarelPeeters/DigitalMeter/internal/live"
	"github.com/KarelPeeters/DigitalMeter/internal/store"
	"github.com/KarelPeeters/DigitalMeter/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting meterserver")

	cfg := config.Load()

	metrics := telemetry.New()

	st, err := store.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	ds := datastore.New(st, metrics)

	router := ingress.NewRouter(cfg.IngressQueueDepth, metrics)

	mux := http.NewServeMux()
	mux.Handle("GET /", http.FileServer(http.Dir("resources")))
	mux.Handle("GET /download/", download.NewHandler(cfg.StoreDriver, cfg.StoreDSN))
	mux.Handle("GET /live", live.NewHandler(ds))
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())
	mux.HandleFunc("GET /healthz", metrics.HealthHandler())

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		router.Run(gctx, ds)
		return nil
	})

	g.Go(func() error {
		err := ingress.RunSerialProducer(gctx, cfg.SerialPort, cfg.SerialBaud, router.Channel())
		if err != nil && gctx.Err() == nil {
			log.Printf("⚠️  serial producer stopped: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		gpio, err := adcio.NewSysfsGPIO(16, 20, 21)
		if err != nil {
			log.Printf("⚠️  ADC GPIO unavailable, water-level readings disabled: %v", err)
			<-gctx.Done()
			return nil
		}
		ingress.RunADCProducer(gctx, gpio, cfg.ADCGPIODelay, cfg.ADCPeriod, router.Channel())
		return nil
	})

	g.Go(func() error {
		log.Printf("✅ Listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("meterserver exited with error: %v", err)
	}
	log.Println("Server exited")
}
