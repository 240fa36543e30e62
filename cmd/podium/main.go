package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/podium"
	"github.com/mattjoyce/podium/internal/config"
	"github.com/mattjoyce/podium/internal/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "pod":
		os.Exit(runPodNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "system":
		os.Exit(runSystemNoun(args))
	case "version":
		fmt.Printf("podium version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`podium - Host runtime for babashka-style pods

Usage:
  podium <noun> <action> [flags]

Pod Commands:
  pod describe <spec>             Load a pod and print its namespaces
  pod invoke <spec> <var> [args]  Load a pod, call a var with JSON args, print the result

Config Commands:
  config check [file]             Validate a pods.yaml declaration file

System Commands:
  system serve                    Load declared pods and serve the status API

Flags for pod commands:
  --version <v>   Registry version (spec is then a qualifier/name coordinate)
  --socket        Use the socket transport
  --force         Re-resolve a registry pod even if cached
  --cache <dir>   Override the pod cache directory

Environment:
  BABASHKA_PODS_DIR  Pod cache root (default: $XDG_CACHE_HOME/babashka/pods)
`)
}

func podFlags(args []string) (*flag.FlagSet, *string, *bool, *bool, *string) {
	fs := flag.NewFlagSet("pod", flag.ContinueOnError)
	podVersion := fs.String("version", "", "registry version")
	socket := fs.Bool("socket", false, "use socket transport")
	force := fs.Bool("force", false, "force re-resolution")
	cache := fs.String("cache", "", "cache directory override")
	return fs, podVersion, socket, force, cache
}

func loadOptions(podVersion string, socket, force bool, cache string) []podium.Option {
	var opts []podium.Option
	if podVersion != "" {
		opts = append(opts, podium.WithVersion(podVersion))
	}
	if socket {
		opts = append(opts, podium.WithSocketTransport())
	}
	if force {
		opts = append(opts, podium.WithForce())
	}
	if cache != "" {
		opts = append(opts, podium.WithCacheDir(cache))
	}
	opts = append(opts, podium.WithStderr(os.Stderr))
	return opts
}

func runPodNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: podium pod <describe|invoke> ...")
		return 1
	}
	log.Setup(os.Getenv("PODIUM_LOG_LEVEL"))

	switch args[0] {
	case "describe":
		return runPodDescribe(args[1:])
	case "invoke":
		return runPodInvoke(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown pod action: %s\n", args[0])
		return 1
	}
}

func runPodDescribe(args []string) int {
	fs, podVersion, socket, force, cache := podFlags(args)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: podium pod describe <spec> [flags]")
		return 1
	}

	rt := podium.NewRuntime()
	defer rt.Shutdown()

	p, err := rt.LoadPod(fs.Arg(0), loadOptions(*podVersion, *socket, *force, *cache)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("pod: %s (format: %s)\n", p.ID, p.Format)
	for _, ns := range p.Namespaces {
		status := ""
		if ns.Defer {
			status = " (deferred)"
		}
		fmt.Printf("  %s%s\n", ns.Name, status)
		for _, v := range ns.Vars {
			flags := ""
			if v.Async {
				flags = " async"
			}
			if v.Code != "" {
				flags += " code"
			}
			fmt.Printf("    %s%s\n", v.Name, flags)
		}
	}
	return 0
}

func runPodInvoke(args []string) int {
	fs, podVersion, socket, force, cache := podFlags(args)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: podium pod invoke <spec> <var> [json-args...] [flags]")
		return 1
	}

	var callArgs []any
	for _, raw := range fs.Args()[2:] {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// Bare words pass through as strings.
			v = raw
		}
		callArgs = append(callArgs, v)
	}

	rt := podium.NewRuntime()
	defer rt.Shutdown()

	p, err := rt.LoadPod(fs.Arg(0), loadOptions(*podVersion, *socket, *force, *cache)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	result, err := rt.Invoke(p.ID, fs.Arg(1), callArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", result)
		return 0
	}
	fmt.Println(string(out))
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || args[0] != "check" {
		fmt.Fprintln(os.Stderr, "Usage: podium config check [file]")
		return 1
	}
	path := config.DefaultPath
	if len(args) > 1 {
		path = args[1]
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("%s: OK (%d pods declared)\n", path, len(cfg.Pods))
	return 0
}

func runSystemNoun(args []string) int {
	if len(args) < 1 || args[0] != "serve" {
		fmt.Fprintln(os.Stderr, "Usage: podium system serve [--config pods.yaml]")
		return 1
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultPath, "pod declaration file")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	log.Setup(os.Getenv("PODIUM_LOG_LEVEL"))
	logger := log.WithComponent("serve")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	rt := podium.NewRuntime()
	defer rt.Shutdown()

	loaded, err := rt.LoadPodsFromConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger.Info("pods loaded", "count", len(loaded))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.API.Enabled {
		if err := rt.ServeStatusAPI(ctx, cfg.API.Listen, cfg.API.APIKey); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return 0
}
