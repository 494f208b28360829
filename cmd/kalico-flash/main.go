// Command kalico-flash orchestrates Klipper/Kalico firmware builds and
// flashes for registered 3D-printer MCU boards. Grounded on the teacher's
// cmd/server/main.go: stdlib flag parsing, a handful of log.Printf status
// lines, and a single top-level error path that prints and exits non-zero
// rather than panicking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/yanceya/kalico-flash/internal/configcache"
	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/orchestrator"
	"github.com/yanceya/kalico-flash/internal/registry"
	"github.com/yanceya/kalico-flash/internal/statusfeed"
	"github.com/yanceya/kalico-flash/internal/tui"
	"github.com/yanceya/kalico-flash/internal/types"
)

// Exit codes distinguish a plain failure from a user-cancelled run, per
// spec.md §5's cancellation requirement ("exit with a distinct status code
// that distinguishes interruption from error").
const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 130 // 128 + SIGINT, the shell convention
)

func main() {
	var (
		registryPath = flag.String("registry", "", "path to the device registry JSON file (default: $XDG_CONFIG_HOME/kalico-flash/registry.json)")
		deviceKey    = flag.String("device", "", "flash this registered device key (single-device mode)")
		all          = flag.Bool("all", false, "flash every connected, eligible registered device (batch mode)")
		interactive  = flag.Bool("interactive", true, "allow interactive prompts (device picker, confirmations)")
		statusAddr   = flag.String("status-addr", "", "optional host:port to serve a read-only websocket status dashboard (SPEC_FULL.md §5; disabled if empty)")
	)
	flag.Parse()

	global, reg, cache, err := loadConfig(*registryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}

	sink := tui.New()
	orch := orchestrator.New(global, reg, cache, sink)

	if *statusAddr != "" {
		hub := statusfeed.NewHub()
		orch.Status = hub
		go func() {
			log.Printf("status dashboard listening on ws://%s", *statusAddr)
			if err := http.ListenAndServe(*statusAddr, hub); err != nil {
				log.Printf("status dashboard stopped: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var runErr error
	if *all {
		_, runErr = orch.FlashAll(ctx)
	} else {
		sel := orchestrator.TargetSelector{Key: *deviceKey, Interactive: *interactive}
		_, runErr = orch.FlashOne(ctx, sel)
	}

	os.Exit(statusFor(runErr))
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, kferrors.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	default:
		return exitError
	}
}

// loadConfig resolves the registry path, loads its GlobalConfig section,
// and constructs the config cache at its XDG-derived default root.
func loadConfig(registryPath string) (types.GlobalConfig, *registry.Registry, *configcache.Cache, error) {
	if registryPath == "" {
		root, err := configcache.DefaultRoot()
		if err != nil {
			return types.GlobalConfig{}, nil, nil, fmt.Errorf("resolve default config root: %w", err)
		}
		// configcache.DefaultRoot is .../kalico-flash/configs; the registry
		// file lives one level up, alongside it.
		registryPath = filepath.Join(filepath.Dir(root), "registry.json")
	}

	reg := registry.New(registryPath)
	data, err := reg.Load()
	if err != nil {
		return types.GlobalConfig{}, nil, nil, fmt.Errorf("load registry: %w", err)
	}

	cacheRoot, err := configcache.DefaultRoot()
	if err != nil {
		return types.GlobalConfig{}, nil, nil, fmt.Errorf("resolve config cache root: %w", err)
	}
	cache := configcache.New(cacheRoot)

	return data.Global, reg, cache, nil
}
