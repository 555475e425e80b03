package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"havosec-api/internal/config"
	"havosec-api/internal/factory"
	"havosec-api/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if cfg.Seed.Enabled {
		seedCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := f.Seeder().Run(seedCtx); err != nil {
			util.Error("Seeding failed", util.ErrorField(err))
		}
		cancel()
	}

	var workers sync.WaitGroup
	if consumer := f.Consumer(); consumer != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				util.Error("Kafka consumer stopped", util.ErrorField(err))
			}
		}()
	}

	router := f.Router()

	serverAddr := cfg.GetServerAddress()
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	servers := []*http.Server{server}
	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		server.TLSConfig = tlsManager.TLSConfig()

		// ACME http-01 challenges and redirects are answered on the plain port.
		if acme := tlsManager.AutocertManager(); acme != nil {
			challenge := &http.Server{
				Addr:              cfg.GetServerAddress(),
				Handler:           acme.HTTPHandler(nil),
				ReadHeaderTimeout: 10 * time.Second,
			}
			servers = append(servers, challenge)
			go serve(challenge, cfg, false)
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	go serve(server, cfg, cfg.Server.EnableTLS)

	<-ctx.Done()
	util.Info("Received shutdown signal")
	shutdown(servers...)
	workers.Wait()
}

func serve(server *http.Server, cfg *config.Config, useTLS bool) {
	var err error
	if useTLS {
		// Certificates come from TLSConfig.GetCertificate.
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("Server failed to start",
			util.String("address", server.Addr),
			util.String("environment", cfg.Environment),
			util.ErrorField(err))
	}
}

func shutdown(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
}
