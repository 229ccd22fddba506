package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/ronkeverse/ufo-server/combat"
	"github.com/ronkeverse/ufo-server/conquest"
	"github.com/ronkeverse/ufo-server/profile"
	"github.com/ronkeverse/ufo-server/replay"
	"github.com/ronkeverse/ufo-server/server"
	"github.com/ronkeverse/ufo-server/ticket"
)

type options struct {
	Port     string `long:"port" env:"PORT" default:"8080" description:"HTTP listen port"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"zerolog level"`

	Ticket struct {
		RPCURL          string `long:"ticket-rpc-url" env:"UFO_TICKET_RPC_URL" description:"ticket chain RPC endpoint"`
		ContractAddress string `long:"ticket-contract" env:"UFO_TICKET_CONTRACT_ADDRESS" description:"ticket contract address"`
		SignerKey       string `long:"ticket-signer-key" env:"UFO_TICKET_SIGNER_PRIVATE_KEY" description:"settlement signer private key (hex)"`
		Required        bool   `long:"ticket-required" env:"UFO_TICKET_REQUIRED" description:"deny pvp joins without a valid ticket"`
		UseOnchainStats bool   `long:"ticket-onchain-stats" env:"UFO_TICKET_USE_ONCHAIN_STATS" description:"trust only on-chain ticket stats"`
	} `group:"ticket"`

	NFT struct {
		RPCURL          string `long:"nft-rpc-url" env:"RONIN_RPC_URL" description:"NFT chain RPC endpoint"`
		ContractAddress string `long:"nft-contract" env:"RONKEVERSE_NFT_CONTRACT_ADDRESS" description:"ERC-721 collection address"`
		BonusesEnabled  bool   `long:"nft-bonuses" env:"PVP_NFT_BONUSES_ENABLED" description:"apply NFT holder bonuses in pvp"`
		BonusTTLMs      int    `long:"nft-bonus-ttl-ms" env:"PVP_NFT_BONUSES_TTL_MS" default:"60000" description:"NFT balance cache TTL in ms"`
	} `group:"nft"`

	Replay struct {
		Store  string `long:"replay-store" env:"REPLAY_STORE" default:"local" choice:"local" choice:"remote" choice:"both" description:"replay storage mode"`
		Dir    string `long:"replay-dir" env:"REPLAY_DIR" default:"replays" description:"local replay directory"`
		Bucket string `long:"replay-bucket" env:"REPLAY_SUPABASE_BUCKET" default:"replays" description:"remote replay bucket"`
	} `group:"replay"`

	Supabase struct {
		URL        string `long:"supabase-url" env:"SUPABASE_URL" description:"Supabase project URL"`
		ServiceKey string `long:"supabase-service-key" env:"SUPABASE_SERVICE_ROLE_KEY" description:"Supabase service role key"`
	} `group:"supabase"`

	Galaxy struct {
		SaveDir    string `long:"galaxy-save-dir" env:"GALAXY_SAVE_DIR" default:"galaxies" description:"galaxy save directory"`
		Difficulty string `long:"galaxy-difficulty" env:"GALAXY_DIFFICULTY" default:"normal" choice:"easy" choice:"normal" choice:"hard" description:"conquest difficulty"`
		AIPlayers  int    `long:"galaxy-ai-players" env:"GALAXY_AI_PLAYERS" default:"3" description:"AI empires seeded per galaxy"`
	} `group:"galaxy"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	tickets := buildTicketService(ctx, opts, log)
	bonuses := buildBonusService(ctx, opts, log)
	cancel()

	profiles := profile.NewService(profile.Config{
		SupabaseURL: opts.Supabase.URL,
		SupabaseKey: opts.Supabase.ServiceKey,
	}, log)
	replays := replay.NewStore(replay.StoreConfig{
		Mode:        opts.Replay.Store,
		Dir:         opts.Replay.Dir,
		Bucket:      opts.Replay.Bucket,
		SupabaseURL: opts.Supabase.URL,
		SupabaseKey: opts.Supabase.ServiceKey,
	}, log)

	registry := server.NewRegistry()
	combatFactory := combat.NewFactory(combat.Deps{
		Registry: registry,
		Tickets:  tickets,
		Bonuses:  bonuses,
		Profiles: profiles,
		Replays:  replays,
		Log:      log,
	})
	conquestFactory := conquest.NewFactory(conquest.Deps{
		Registry:   registry,
		Profiles:   profiles,
		SaveDir:    opts.Galaxy.SaveDir,
		Difficulty: opts.Galaxy.Difficulty,
		AIPlayers:  opts.Galaxy.AIPlayers,
		Log:        log,
	})
	gateway := server.NewGateway(registry, map[string]server.RoomFactory{
		"pvp":    combatFactory,
		"fun":    combatFactory,
		"galaxy": conquestFactory,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(registry.Snapshot())
	})
	mux.HandleFunc("/api/replays", func(w http.ResponseWriter, r *http.Request) {
		entries, err := replays.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})
	mux.HandleFunc("/api/replays/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/replays/")
		data, err := replays.Read(id)
		if err != nil {
			http.Error(w, "replay not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	srv := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", opts.Port).Msg("ufo server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	// Rooms first so pending replays and galaxy saves flush, then the
	// settlement queue drains.
	gateway.Shutdown()
	tickets.Close()
	log.Info().Msg("server stopped")
}

// buildTicketService dials the ticket contract when configured; otherwise
// the service runs in pass-through mode (fun rooms, local development).
func buildTicketService(ctx context.Context, opts options, log zerolog.Logger) *ticket.Service {
	cfg := ticket.Config{
		RPCURL:          opts.Ticket.RPCURL,
		ContractAddress: opts.Ticket.ContractAddress,
		SignerKey:       opts.Ticket.SignerKey,
		Required:        opts.Ticket.Required,
		UseOnchainStats: opts.Ticket.UseOnchainStats,
	}
	var contract ticket.Contract
	if cfg.Configured() {
		c, err := ticket.DialContract(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.SignerKey)
		if err != nil {
			log.Error().Err(err).Msg("ticket contract dial failed, running without settlement")
		} else {
			contract = c
		}
	}
	return ticket.NewService(cfg, contract, log)
}

func buildBonusService(ctx context.Context, opts options, log zerolog.Logger) *ticket.BonusService {
	cfg := ticket.BonusConfig{
		RPCURL:          opts.NFT.RPCURL,
		ContractAddress: opts.NFT.ContractAddress,
		Enabled:         opts.NFT.BonusesEnabled,
		TTL:             time.Duration(opts.NFT.BonusTTLMs) * time.Millisecond,
	}
	var reader ticket.BalanceReader
	if cfg.Enabled && cfg.RPCURL != "" && cfg.ContractAddress != "" {
		r, err := ticket.DialBalanceReader(ctx, cfg.RPCURL, cfg.ContractAddress)
		if err != nil {
			log.Error().Err(err).Msg("nft contract dial failed, bonuses disabled")
			cfg.Enabled = false
		} else {
			reader = r
		}
	}
	return ticket.NewBonusService(cfg, reader, log)
}
