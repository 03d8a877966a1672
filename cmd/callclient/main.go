package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicecall/internal/adapters/capture"
	"github.com/dkeye/voicecall/internal/adapters/directory"
	uihttp "github.com/dkeye/voicecall/internal/adapters/http"
	"github.com/dkeye/voicecall/internal/adapters/rtc"
	transport "github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/app/call"
	"github.com/dkeye/voicecall/internal/app/router"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/history"
	"github.com/dkeye/voicecall/internal/media"
	"github.com/dkeye/voicecall/internal/metrics"
	"github.com/dkeye/voicecall/internal/signal"
)

var rootCmd = &cobra.Command{
	Use:          "callclient",
	Short:        "voice and video call coordinator",
	Long:         `callclient keeps a signaling connection to the chat backend, negotiates WebRTC media for calls and serves a local UI API`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := ossignal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
		return run(ctx, cfg)
	},
}

func init() {
	f := rootCmd.Flags()
	f.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	f.Int("port", 8080, "local UI API port")
	f.String("log_level", "info", "zerolog level")
	f.String("history_path", "calls.db", "SQLite call history path")
	f.String("signal.url", "", "signaling WebSocket URL")
	f.Int64("member_id", 0, "local member id for chats without an explicit mapping")
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("callclient failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	policy, err := call.ParseBusyPolicy(cfg.Call.BusyPolicy)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	calls, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer calls.Close()

	devices, err := capture.NewDevices()
	if err != nil {
		return fmt.Errorf("capture devices: %w", err)
	}
	links, err := rtc.NewFactory(rtc.Config{
		ICEServers:          cfg.ICEServers,
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		Sink:                rtc.DiscardSink{},
	})
	if err != nil {
		return err
	}

	header := http.Header{}
	if cfg.Signal.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Signal.Token)
	}
	client := transport.NewClient(transport.Options{
		URL:          cfg.Signal.URL,
		Header:       header,
		ReconnectMin: cfg.Signal.ReconnectMin,
		ReconnectMax: cfg.Signal.ReconnectMax,
		SendQueue:    cfg.Signal.SendQueue,
		PingInterval: cfg.Signal.PingPeriod,
		WriteTimeout: cfg.Signal.WriteTimeout,
	})
	events := client.Subscribe(signal.Prefix)

	rt := router.New(client, m)
	machine := call.New(call.Config{
		RingTimeout:    cfg.Call.RingTimeout,
		TransportGrace: cfg.Call.TransportGrace,
		Policy:         policy,
		BusyQueue:      cfg.Call.BusyQueue,
		BusyLimit:      cfg.Call.BusyLimit,
		BusyWindow:     cfg.Call.BusyWindow,
	}, call.Deps{
		Capture: media.NewManager(devices),
		Links:   links,
		Signals: rt,
		Chats:   directory.New(cfg.LocalMembers(), domain.MemberID(cfg.MemberID)),
		History: calls,
		Metrics: m,
	})
	rt.Bind(machine)
	client.OnStateChange(rt.TransportChanged)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: uihttp.SetupRouter(cfg, machine, calls, reg),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return machine.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return rt.Run(gctx, events) })
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("callclient UI API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("callclient exited")
	return err
}
