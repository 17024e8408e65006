// Package launch renders the self-contained shell script that starts the
// user process on the remote host: it exports the process environment,
// detaches the command with its output redirected to a log file, and echoes
// the resulting process id as the script's sole stdout line.
package launch

import (
	"bytes"
	"fmt"
	"sort"

	"al.essio.dev/pkg/shellescape"
)

// Script builds the launch script. Environment values are single-quote
// escaped so a value containing shell metacharacters stays inert; command is
// the operator-supplied launch line and is emitted as written. Keys are
// emitted in sorted order so the output is deterministic.
//
// The script's stdout contract: exactly one line, the pid of the detached
// process. Anything else is a launch failure to the caller.
func Script(env map[string]string, command, logFile string) []byte {
	var b bytes.Buffer
	b.WriteString("#!/bin/bash\n")

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellescape.Quote(env[k]))
	}

	// A stale per-session runtime dir inherited from the ssh login breaks
	// anything that writes under it; the launched process gets a fresh one.
	b.WriteString("unset XDG_RUNTIME_DIR\n")

	quotedLog := shellescape.Quote(logFile)
	fmt.Fprintf(&b, "touch %s\n", quotedLog)
	fmt.Fprintf(&b, "chmod 600 %s\n", quotedLog)

	// /dev/null on stdin avoids the detached process hanging on a read;
	// $! is the pid of the backgrounded command.
	fmt.Fprintf(&b, "%s < /dev/null >> %s 2>&1 & pid=$!\n", command, quotedLog)
	b.WriteString("echo $pid\n")
	return b.Bytes()
}
