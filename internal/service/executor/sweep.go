package executor

import (
	"context"
	"errors"
	"syscall"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/discord-installer/internal/logger"
)

// killTree kills the process group led by pid and every descendant that left it.
// Descendants are collected before the leader dies, while they are still its children.
func killTree(ctx context.Context, pid int) {
	descendants := findDescendants(ctx, pid)

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		logger.WarnKV(ctx, "Cannot kill process group", "pgid", pid, "error", err)
	}

	for _, child := range descendants {
		if err := syscall.Kill(child, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			logger.WarnKV(ctx, "Cannot kill child process", "pid", child, "error", err)
		}
	}
}

// findDescendants walks the process table breadth-first from root.
func findDescendants(ctx context.Context, root int) []int {
	processes, err := ps.Processes()
	if err != nil {
		logger.WarnKV(ctx, "Cannot list processes", "error", err)

		return nil
	}

	children := make(map[int][]int, len(processes))
	for _, process := range processes {
		children[process.PPid()] = append(children[process.PPid()], process.Pid())
	}

	var (
		result []int
		queue  = []int{root}
	)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, child := range children[current] {
			result = append(result, child)
			queue = append(queue, child)
		}
	}

	return result
}
