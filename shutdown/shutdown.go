// Package shutdown ties the host process lifecycle to job cancellation.
// The worker and its ffmpeg children form one process group; a stop signal
// cancels the run context, which walks down to every encoder process, and
// the group broadcast catches anything the context cannot reach.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/just-work/video-transcoding/log"
)

// stopSignals are the ones operators and init systems send for a clean
// stop. SIGKILL is deliberately absent: the hard kill is the per-process
// fallback after the grace period, never something we forward.
var stopSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}

// selfSignalWindow is how long after a group broadcast our own copy of the
// signal may arrive and still count as an echo, not an operator escalation.
const selfSignalWindow = time.Second

// JoinProcessGroup makes this process the leader of its own group, so
// encoder children inherit it and group-wide signals stay inside the
// worker tree. Already being the leader is fine.
func JoinProcessGroup() error {
	if syscall.Getpgrp() == syscall.Getpid() {
		return nil
	}
	if err := syscall.Setpgid(0, 0); err != nil {
		return fmt.Errorf("joining process group: %w", err)
	}
	return nil
}

// Broadcast delivers sig to every process in the worker's group, the
// worker itself included. An empty or missing group is success.
func Broadcast(sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(syscall.Getpid())
	if err != nil {
		return fmt.Errorf("resolving process group: %w", err)
	}
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signaling process group %d: %w", pgid, err)
	}
	return nil
}

// Handle runs as an errgroup member: it waits for a stop signal, fans it
// out to the process group, and returns an error so the group cancels the
// run context and every runner starts its cooperative shutdown. A second
// signal from outside the echo window ends the process immediately.
func Handle(ctx context.Context) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, stopSignals...)

	select {
	case <-ctx.Done():
		signal.Stop(c)
		return nil
	case s := <-c:
		log.LogNoTaskID("caught stop signal, starting graceful shutdown", "signal", s.String())
		broadcast, ok := s.(syscall.Signal)
		if !ok {
			broadcast = syscall.SIGTERM
		}
		if err := Broadcast(broadcast); err != nil {
			log.LogNoTaskID("group broadcast failed", "err", err)
		}
		go escalate(c, broadcast)
		return fmt.Errorf("caught signal %v", s)
	}
}

// escalate watches for further signals during the drain. The first echo of
// our own broadcast is swallowed; anything else means the operator wants
// out now.
func escalate(c <-chan os.Signal, sent syscall.Signal) {
	deadline := time.Now().Add(selfSignalWindow)
	for s := range c {
		if s == sent && time.Now().Before(deadline) {
			continue
		}
		log.LogNoTaskID("second stop signal, exiting immediately", "signal", s.String())
		if sig, ok := s.(syscall.Signal); ok {
			os.Exit(128 + int(sig))
		}
		os.Exit(1)
	}
}
