package podium

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattjoyce/podium/internal/log"
)

var (
	exitHookOnce     sync.Once
	exitHookMu       sync.Mutex
	exitHookRuntimes = make(map[*Runtime]struct{})
)

// registerExitHook ties rt into the process-wide exit hook. Every successful
// LoadPod registers its runtime, so a terminating signal unloads all live
// pods before the process dies and no child processes leak. Orderly exits
// (normal return, os.Exit) cannot be intercepted in Go; those paths call
// Shutdown themselves.
func registerExitHook(rt *Runtime) {
	exitHookMu.Lock()
	exitHookRuntimes[rt] = struct{}{}
	exitHookMu.Unlock()

	exitHookOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			sig := <-ch
			log.WithComponent("exit-hook").Info("terminating signal, unloading pods", "signal", sig.String())

			exitHookMu.Lock()
			rts := make([]*Runtime, 0, len(exitHookRuntimes))
			for rt := range exitHookRuntimes {
				rts = append(rts, rt)
			}
			exitHookMu.Unlock()
			for _, rt := range rts {
				rt.Shutdown()
			}

			// Re-deliver the signal with its default disposition so the
			// process reports the conventional exit status.
			signal.Stop(ch)
			signal.Reset(sig)
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				if err := proc.Signal(sig); err == nil {
					return
				}
			}
			os.Exit(1)
		}()
	})
}

// unregisterExitHook drops a runtime with no pods left; LoadPod re-registers
// on the next load.
func unregisterExitHook(rt *Runtime) {
	exitHookMu.Lock()
	delete(exitHookRuntimes, rt)
	exitHookMu.Unlock()
}
