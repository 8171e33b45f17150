//go:build linux

package services

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const tcpListen = "0A"

// killPortListeners sends SIGTERM to every other process holding a listening
// socket on port, then waits briefly for the port to free up.
func killPortListeners(port int, logger *zap.Logger) ([]int, error) {
	inodes := map[string]bool{}
	for _, table := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		f, err := os.Open(table)
		if err != nil {
			continue
		}
		found, err := parseProcNetTCP(f, port)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", table, err)
		}
		for _, inode := range found {
			inodes[inode] = true
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	pids := socketOwners(inodes)
	self := os.Getpid()
	var killed []int
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			logger.Warn("could not signal stale listener", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		killed = append(killed, pid)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, pid := range killed {
		for time.Now().Before(deadline) && unix.Kill(pid, 0) == nil {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return killed, nil
}

// parseProcNetTCP returns the socket inodes listening on port in a
// /proc/net/tcp formatted table.
func parseProcNetTCP(r io.Reader, port int) ([]string, error) {
	var inodes []string
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 || fields[3] != tcpListen {
			continue
		}
		idx := strings.LastIndexByte(fields[1], ':')
		if idx < 0 {
			continue
		}
		localPort, err := strconv.ParseUint(fields[1][idx+1:], 16, 16)
		if err != nil || int(localPort) != port {
			continue
		}
		if fields[9] != "0" {
			inodes = append(inodes, fields[9])
		}
	}
	return inodes, scanner.Err()
}

// socketOwners finds the processes whose fd table references one of inodes.
func socketOwners(inodes map[string]bool) []int {
	procs, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var pids []int
	for _, proc := range procs {
		pid, err := strconv.Atoi(proc.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", proc.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil || !strings.HasPrefix(link, "socket:[") {
				continue
			}
			if inodes[strings.TrimSuffix(strings.TrimPrefix(link, "socket:["), "]")] {
				pids = append(pids, pid)
				break
			}
		}
	}
	return pids
}
