// Command itv2d runs the ITv2 panel-integration gateway.
//
// Configuration comes from the environment, or from an env file given as
// the sole positional argument (in which case the process environment is
// ignored for gateway settings):
//
//	ITV2_LISTEN_ADDR      TCP listen address (default ":3072")
//	ITV2_ACCESS_CODE_T1   integration access code, Type 1 keying (8+ digits)
//	ITV2_ID_NUMBER        integration identification number (8+ digits)
//	ITV2_ACCESS_CODE_T2   integration access code, Type 2 keying (32 hex)
//	ITV2_METRICS_ADDR     Prometheus endpoint address (disabled if empty)
//	ITV2_LOG_LEVEL        zerolog level name (default "info")
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/panellink/itv2/pkg/crypto"
	"github.com/panellink/itv2/pkg/gateway"
	"github.com/panellink/itv2/pkg/session"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	env := envFromProcess()
	if pflag.NArg() == 1 {
		var err error
		if env, err = envFromFile(pflag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	level, err := zerolog.ParseLevel(getenv(env, "ITV2_LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: bad ITV2_LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())

	gw, err := gateway.New(gateway.Config{
		ListenAddr: getenv(env, "ITV2_LISTEN_ADDR", gateway.DefaultListenAddr),
		Keys: crypto.KeyConfig{
			AccessCodeType1: env["ITV2_ACCESS_CODE_T1"],
			IDNumber:        env["ITV2_ID_NUMBER"],
			AccessCodeType2: env["ITV2_ACCESS_CODE_T2"],
		},
		OnNotification: func(n session.Notification) {
			log.Debug().
				Str("session", n.SessionID).
				Stringer("command", n.Msg.Command()).
				Time("received", n.ReceivedAt).
				Msg("panel message")
		},
		OnSessionUp: func(id string, remote net.Addr) {
			log.Info().Str("session", id).Stringer("panel", remote).Msg("panel connected")
		},
		OnSessionDown: func(id string, err error) {
			log.Info().Str("session", id).Err(err).Msg("panel disconnected")
		},
		Metrics:       promReg,
		LoggerFactory: &zerologFactory{log: log},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("gateway setup")
	}

	if addr := env["ITV2_METRICS_ADDR"]; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			log.Info().Str("addr", addr).Msg("serving metrics")
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server")
			}
		}()
	}

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway start")
	}
	log.Info().Str("addr", gw.Addr().String()).Msg("gateway listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	if err := gw.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway stop")
	}
}

func envFromProcess() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

func envFromFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return envparse.Parse(f)
}

func getenv(env map[string]string, key, fallback string) string {
	if v, ok := env[key]; ok && v != "" {
		return v
	}
	return fallback
}
