// Package main wires the Stream Core into a runnable demo agent: with
// -role=parent a `/stream` receiver endpoint, with -role=child a sender
// fed by a synthetic collector loop, so running one of each exercises
// the negotiate -> publish -> reconnect lifecycle end to end.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/candlerb/netdata/cmn/cos"
	"github.com/candlerb/netdata/cmn/nlog"
	"github.com/candlerb/netdata/hk"
	"github.com/candlerb/netdata/stream"
)

var (
	listenAddr  string
	destination string
	apiKey      string
	role        string
)

func init() {
	flag.StringVar(&listenAddr, "listen", ":19999", "address the receiver listens on (parent role)")
	flag.StringVar(&destination, "destination", "", "whitespace-separated parent list, e.g. 'parent1:19999 parent2:19999:SSL' (child role)")
	flag.StringVar(&apiKey, "api-key", "", "streaming api key")
	flag.StringVar(&role, "role", "parent", "\"parent\" or \"child\"")
}

func main() {
	flag.Parse()
	cos.InitShortID(uint64(time.Now().UnixNano()))
	installSignalHandler()

	switch role {
	case "child":
		runChild()
	case "parent":
		runParent()
	default:
		cos.ExitLogf("unknown -role %q, want \"parent\" or \"child\"", role)
	}
}

func runParent() {
	localGUID := stream.GenMachineGUID()
	registrar := newInMemoryRegistrar()
	cfg := stream.DefaultConfig()
	cfg.StreamingRate = time.Second

	srv := stream.NewServer(cfg, registrar, localGUID, map[string]stream.APIKeySection{
		apiKey: {Key: apiKey, Type: "api", Enabled: true},
	})

	mux := http.NewServeMux()
	mux.Handle("/stream", srv)
	nlog.Infof("stream-agent: parent listening on %s (machine_guid=%s)", listenAddr, localGUID)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		cos.ExitLogf("receiver failed: %v", err)
	}
}

func runChild() {
	if destination == "" {
		cos.ExitLogf("-destination is required for -role=child")
	}
	host := stream.NewHost(stream.GenMachineGUID(), hostnameOrDefault())
	host.Destinations = stream.NewRegistryFromConfig(destination)

	cfg := stream.DefaultConfig()
	cfg.Destination = destination
	cfg.APIKey = apiKey
	cfg.SendChartsMatching = "*"

	sender := stream.NewSender(host, cfg, host.Destinations, stream.DefaultDialer())
	publisher := stream.NewPublisher(sender, cfg)

	chart := host.EnsureChart("system.cpu", 1)
	chart.Name, chart.Title, chart.Units, chart.Family, chart.Context = "cpu", "Total CPU utilization", "percentage", "cpu", "system.cpu"
	chart.Dimensions = append(chart.Dimensions, &stream.Dimension{ID: "user", Name: "user"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hk.DefaultHK.Run()
	hk.Reg("stream-agent.cpu-tick", func() time.Duration {
		collectAndPublish(ctx, publisher, chart)
		return time.Second
	}, time.Second)

	nlog.Infof("stream-agent: child streaming to %q (machine_guid=%s)", destination, host.MachineGUID)
	select {}
}

// collectAndPublish stands in for a real collector plugin (out of
// scope, §1): it synthesizes one CPU reading per tick and runs it
// through the C5 publication protocol.
func collectAndPublish(ctx context.Context, p *stream.Publisher, chart *stream.Chart) {
	now := time.Now().Unix()
	value := int64(now % 100)
	updated := map[string]int64{"user": value}
	if err := p.Tick(ctx, chart, updated, now, now); err != nil {
		nlog.Warningf("stream-agent: tick failed: %v", err)
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Fprintln(os.Stderr, "stream-agent: shutting down")
		os.Exit(0)
	}()
}

type inMemoryRegistrar struct {
	hosts map[string]*stream.Host
}

func newInMemoryRegistrar() *inMemoryRegistrar {
	return &inMemoryRegistrar{hosts: make(map[string]*stream.Host)}
}

func (r *inMemoryRegistrar) Resolve(machineGUID, hostname string) *stream.Host {
	if h, ok := r.hosts[machineGUID]; ok {
		return h
	}
	h := stream.NewHost(machineGUID, hostname)
	r.hosts[machineGUID] = h
	return h
}
