package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cfoust/lockstep/pkg/config"
	"github.com/cfoust/lockstep/pkg/i18n"
	"github.com/cfoust/lockstep/pkg/scheduler"
	"github.com/cfoust/lockstep/pkg/server"
	"github.com/cfoust/lockstep/pkg/server/ingress"
	"github.com/cfoust/lockstep/pkg/state"

	"github.com/rs/zerolog/log"
)

func serve(configs []string) error {
	config, err := config.Process(configs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	serverConfig := config.Server

	store, err := state.NewStore(serverConfig.Store)
	if err != nil {
		return fmt.Errorf("failed to open match store: %w", err)
	}
	defer store.Close()

	catalog, err := i18n.LoadCatalog()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	game := server.New(
		ctx,
		scheduler.RealClock(),
		catalog,
		store,
		server.FromSettings(serverConfig),
	)

	// the game starts once enough players have joined
	go game.Poll(ctx)

	wsIngress := ingress.NewWSIngress(game, serverConfig.Ingress)

	mux := http.NewServeMux()
	mux.Handle(serverConfig.Ingress.Web.Path, wsIngress)
	mux.Handle("/api/matches", MatchHandler(store))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", serverConfig.Ingress.Web.Port),
		Handler: mux,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("listening on http://%s", httpServer.Addr)
		errc <- httpServer.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	select {
	case err := <-errc:
		log.Printf("failed to serve: %v", err)
	case sig := <-sigs:
		log.Printf("terminating: %v", sig)
	case <-game.Done():
		log.Info().Msg("game finished")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	game.Shutdown()

	return nil
}
