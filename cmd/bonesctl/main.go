// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luxfi/bones"
)

const usage = `usage: bonesctl [flags] <command> [args]

commands:
  request <method> [json-param...]   send a request and print the response
  notify <method> [json-param...]    send a notification
  sync                               run a synack exchange on every node
  nodes                              refresh the cluster and print node health
  serve-admin <listen-addr>          serve /nodes and /metrics over HTTP

flags:
`

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file")
		uri        = flag.String("uri", "", "connection string, e.g. bones://127.0.0.1:7000/?adapter=json")
		logLevel   = flag.String("log-level", "", "log level (overrides config and LOG_LEVEL)")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := bones.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *uri != "" {
		u, err := bones.ParseURI(*uri)
		if err != nil {
			log.Fatalf("Invalid uri: %v", err)
		}
		u.Apply(cfg)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := bones.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	cfg.Logger = logger
	cfg.Metrics = bones.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := bones.NewSession(cfg)
	if err != nil {
		logger.Fatal("Failed to create session", zap.Error(err))
	}
	defer session.Close()

	if err := run(ctx, session, reg, logger, flag.Args()); err != nil {
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, s *bones.Session, reg *prometheus.Registry, logger *zap.Logger, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "request":
		if len(rest) == 0 {
			return errors.New("request needs a method")
		}
		params, err := parseParams(rest[1:])
		if err != nil {
			return err
		}
		var result interface{}
		if err := s.Call(ctx, rest[0], params, &result); err != nil {
			return err
		}
		return printJSON(result)

	case "notify":
		if len(rest) == 0 {
			return errors.New("notify needs a method")
		}
		params, err := parseParams(rest[1:])
		if err != nil {
			return err
		}
		return s.Notify(ctx, rest[0], params...)

	case "sync":
		for _, n := range s.Cluster().Seeds() {
			f, err := n.Synchronize(ctx)
			if err != nil {
				fmt.Printf("%s\terror: %v\n", n.ID(), err)
				continue
			}
			msg, err := f.Wait(s.Config().Timeout)
			if err != nil {
				fmt.Printf("%s\terror: %v\n", n.ID(), err)
				continue
			}
			fmt.Printf("%s\t%s\n", n.ID(), msg)
		}
		return nil

	case "nodes":
		if _, err := s.Cluster().Refresh(ctx); err != nil {
			logger.Warn("refresh", zap.Error(err))
		}
		out := make([]bones.NodeStatus, 0)
		for _, n := range s.Cluster().Seeds() {
			out = append(out, n.Status())
		}
		return printJSON(out)

	case "serve-admin":
		if len(rest) != 1 {
			return errors.New("serve-admin needs a listen address")
		}
		srv := &http.Server{
			Addr:         rest[0],
			Handler:      bones.NewAdminHandler(s.Cluster(), reg),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Starting admin server", zap.String("address", rest[0]))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parseParams decodes each argument as JSON, falling back to a plain string.
func parseParams(args []string) ([]interface{}, error) {
	params := make([]interface{}, 0, len(args))
	for _, a := range args {
		var v interface{}
		dec := json.NewDecoder(strings.NewReader(a))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			params = append(params, a)
			continue
		}
		params = append(params, plainNumbers(v))
	}
	return params, nil
}

// plainNumbers replaces json.Number values at any depth with int64 or
// float64 so the adapters encode them as numbers.
func plainNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []interface{}:
		for i := range x {
			x[i] = plainNumbers(x[i])
		}
	case map[string]interface{}:
		for k := range x {
			x[k] = plainNumbers(x[k])
		}
	}
	return v
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
