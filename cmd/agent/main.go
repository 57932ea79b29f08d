// Command agent collects host resource usage and reports it to the
// hostwatch API on a fixed interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"

	"hostwatch/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

type samplePayload struct {
	Host          string   `json:"host"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
	DiskPercent   *float64 `json:"disk_percent,omitempty"`
	NetworkIn     *int64   `json:"network_in,omitempty"`
	NetworkOut    *int64   `json:"network_out,omitempty"`
}

type collector struct {
	hostname string
	logger   *zap.Logger

	// Cumulative counters from the previous collection, for deltas.
	lastBytesRecv uint64
	lastBytesSent uint64
	hasLast       bool
}

// collect gathers one sample. Collectors that fail leave their field nil;
// a partially populated sample is still worth reporting.
func (c *collector) collect(ctx context.Context) samplePayload {
	p := samplePayload{Host: c.hostname}

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		p.CPUPercent = &percents[0]
	} else if err != nil {
		c.logger.Warn("cpu collection failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		p.MemoryPercent = &vm.UsedPercent
	} else {
		c.logger.Warn("memory collection failed", zap.Error(err))
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		p.DiskPercent = &du.UsedPercent
	} else {
		c.logger.Warn("disk collection failed", zap.Error(err))
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		recv, sent := counters[0].BytesRecv, counters[0].BytesSent
		if c.hasLast && recv >= c.lastBytesRecv && sent >= c.lastBytesSent {
			in := int64(recv - c.lastBytesRecv)
			out := int64(sent - c.lastBytesSent)
			p.NetworkIn = &in
			p.NetworkOut = &out
		}
		c.lastBytesRecv, c.lastBytesSent = recv, sent
		c.hasLast = true
	} else if err != nil {
		c.logger.Warn("network collection failed", zap.Error(err))
	}

	return p
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	v, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	hostname := v.GetString("agent.hostname")
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("determine hostname: %w", err)
		}
	}

	client := resty.New().
		SetBaseURL(v.GetString("agent.api_url")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	interval := v.GetDuration("agent.interval")
	c := &collector{hostname: hostname, logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent started",
		zap.String("host", hostname),
		zap.String("api_url", v.GetString("agent.api_url")),
		zap.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("agent stopping")
			return nil
		case <-ticker.C:
			report(ctx, client, c, logger)
		}
	}
}

// report collects and posts one sample. Failures are logged; the next tick
// tries again.
func report(ctx context.Context, client *resty.Client, c *collector, logger *zap.Logger) {
	payload := c.collect(ctx)

	resp, err := client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/api/v1/metrics")
	if err != nil {
		logger.Warn("report failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		logger.Warn("report rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return
	}
	logger.Debug("sample reported", zap.String("host", payload.Host))
}
