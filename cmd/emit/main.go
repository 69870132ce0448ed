package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"soika/jobrouter/internal/bootstrap"
	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/config"
	"soika/jobrouter/pkg/logger"
)

var (
	configPath   = flag.String("config", "./config/worker.yaml", "config file path")
	testcasePath = flag.String("testcase", "./cmd/emit/testcase/jobs.json", "JSON list of jobs to emit")
	connectWait  = flag.Duration("wait", 10*time.Second, "how long to wait for the queue connection")
)

// TestCase is one job to emit.
type TestCase struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Delay       string          `json:"delay,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  Emit - enqueue jobs from a test case file")
	fmt.Println("========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Config validation failed: %v\n", err)
		os.Exit(1)
	}

	testCases, err := loadTestCases(*testcasePath)
	if err != nil {
		fmt.Printf("Failed to load test cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d test cases from %s\n", len(testCases), *testcasePath)

	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	rt, err := bootstrap.New(cfg, zapLogger, bootstrap.Options{})
	if err != nil {
		fmt.Printf("Failed to build runtime: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *connectWait)
	_ = rt.Connect(ctx)
	if err := rt.Adapter.Await(ctx); err != nil {
		cancel()
		fmt.Printf("Queue not reachable: %v\n", err)
		os.Exit(1)
	}
	cancel()

	successCount, failureCount := 0, 0
	for i, tc := range testCases {
		fmt.Printf("[%d/%d] %s %s\n", i+1, len(testCases), tc.Kind, string(tc.Payload))

		id, err := emit(rt.Router, tc)
		if err != nil {
			fmt.Printf("  FAILED: %v\n", describe(err))
			failureCount++
			continue
		}
		fmt.Printf("  queued as %s\n", id)
		successCount++
	}

	fmt.Println("========================================")
	fmt.Printf("  Emitted: %d, failed: %d\n", successCount, failureCount)
	fmt.Println("========================================")

	if failureCount > 0 {
		os.Exit(1)
	}
}

func emit(router *jobrouter.Router, tc TestCase) (string, error) {
	var opts []jobrouter.DeliveryOption
	if tc.Delay != "" {
		d, err := time.ParseDuration(tc.Delay)
		if err != nil {
			return "", fmt.Errorf("bad delay %q: %w", tc.Delay, err)
		}
		opts = append(opts, jobrouter.WithDelay(d))
	}
	if tc.Priority != 0 {
		opts = append(opts, jobrouter.WithPriority(tc.Priority))
	}
	if tc.MaxAttempts > 0 {
		opts = append(opts, jobrouter.WithMaxAttempts(tc.MaxAttempts))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return router.EmitID(ctx, tc.Kind, tc.Payload, opts...)
}

func describe(err error) string {
	var verr *jobrouter.ValidationError
	if errors.As(err, &verr) {
		out := "invalid payload:"
		for _, v := range verr.Violations {
			out += fmt.Sprintf(" [%s %s: %s]", v.Field, v.Rule, v.Message)
		}
		return out
	}
	return err.Error()
}

func loadTestCases(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var testCases []TestCase
	if err := json.Unmarshal(data, &testCases); err != nil {
		return nil, err
	}
	return testCases, nil
}
