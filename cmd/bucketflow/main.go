package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hanpama/bucketflow/internal/boundary"
	"github.com/hanpama/bucketflow/internal/eventbus"
	"github.com/hanpama/bucketflow/internal/executor"
	"github.com/hanpama/bucketflow/internal/otel"
	"github.com/hanpama/bucketflow/internal/planfile"
	"github.com/hanpama/bucketflow/internal/server"
)

const rootUsage = `bucketflow — bucket executor for layered step plans

USAGE:
  bucketflow <command> [flags]

COMMANDS:
  run              Execute a planfile once and print the result as JSON
  check            Parse and validate a planfile
  serve            Run the HTTP execution endpoint over a planfile
  help             Show help for any command
`

const runUsage = `run FLAGS:
  -plan <file>        Planfile to execute (required)
  -size <n>           Bucket size (default: planfile's size)
  -inputs <json>      JSON object of input columns, e.g. '{"ids":[1,2]}'
  -pretty             Pretty-print the JSON result
`

const checkUsage = `check FLAGS:
  -plan <file>        Planfile to validate (required)
  (Exits non-zero and prints the first problem found)
`

const serveUsage = `serve FLAGS:
  -plan <file>            Planfile to serve (required)
  -server.addr <addr>     HTTP listen address (default: :8080)
  -server.pretty          Pretty-print JSON responses
  -server.timeout <dur>   Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body <n>    Max request body bytes (default: 1048576)
  -server.cors <origin>   Allowed CORS origin. Repeatable
  -otel.endpoint <addr>   OTLP collector endpoint
  -otel.service <name>    OpenTelemetry service name (default: bucketflow)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("bucketflow", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs)
	case "serve":
		return cmdServe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	case "check":
		fmt.Print(checkUsage)
	case "serve":
		fmt.Print(serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdRun(args []string) error {
	planPath := ""
	size := -1
	inputsJSON := ""
	pretty := false

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&planPath, "plan", planPath, "Planfile to execute")
	fs.IntVar(&size, "size", size, "Bucket size")
	fs.StringVar(&inputsJSON, "inputs", inputsJSON, "JSON object of input columns")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print the JSON result")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}
	if planPath == "" {
		fmt.Fprint(os.Stderr, runUsage)
		return fmt.Errorf("-plan is required")
	}

	p, err := planfile.Load(planPath)
	if err != nil {
		return err
	}
	inputs := map[string][]any{}
	if inputsJSON != "" {
		if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
			return fmt.Errorf("parse -inputs: %w", err)
		}
	}
	seed, err := p.Seed(inputs)
	if err != nil {
		return err
	}
	if size < 0 {
		size = p.Size
	}

	b, err := executor.NewBucket(p.Layer, size, seed)
	if err != nil {
		return err
	}
	if err := executor.ExecuteBucket(context.Background(), b, &executor.RequestContext{}); err != nil {
		return err
	}
	res, err := boundary.Collect(b, p.Outputs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func cmdCheck(args []string) error {
	planPath := ""
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&planPath, "plan", planPath, "Planfile to validate")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}
	if planPath == "" {
		fmt.Fprint(os.Stderr, checkUsage)
		return fmt.Errorf("-plan is required")
	}

	p, err := planfile.Load(planPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d steps, %d inputs, %d outputs, size %d\n",
		planPath, len(p.Layer.Steps), len(p.Inputs), len(p.Outputs), p.Size)
	return nil
}

func cmdServe(args []string) error {
	planPath := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	otelEndpoint := ""
	otelService := "bucketflow"
	var corsOrigins stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&planPath, "plan", planPath, "Planfile to serve")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body", maxBody, "Max request body bytes")
	fs.Var(&corsOrigins, "server.cors", "Allowed CORS origin")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if planPath == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-plan is required")
	}

	p, err := planfile.Load(planPath)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sopts := []server.Option{server.WithMaxBodyBytes(maxBody)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(corsOrigins...))
	}
	h := server.New(p, sopts...)

	mux := http.NewServeMux()
	mux.Handle("/execute", h)

	log.Printf("bucketflow serving %s on %s", planPath, addr)
	return http.ListenAndServe(addr, mux)
}
