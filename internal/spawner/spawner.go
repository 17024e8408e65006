// Package spawner launches, supervises and tears down one long-running user
// process on a remote host reached over SSH.
//
// Each user gets exactly one Orchestrator, and an Orchestrator owns exactly
// one session. Start, Poll and Stop on the same Orchestrator must be
// serialized by the caller; the orchestrator holds no internal lock and is
// not reentrant-safe. Host pool and credential configuration are read-only
// and may be shared across orchestrators.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/sshspawn/internal/config"
	"github.com/antonkrylov/sshspawn/internal/creds"
	"github.com/antonkrylov/sshspawn/internal/hostpool"
	"github.com/antonkrylov/sshspawn/internal/launch"
	"github.com/antonkrylov/sshspawn/internal/registry"
	"github.com/antonkrylov/sshspawn/internal/sshexec"
)

var (
	// ErrMalformedOutput indicates the port finder or the launch script
	// produced output not matching its contract.
	ErrMalformedOutput = errors.New("malformed remote output")

	// ErrLaunchFailed indicates the session never reached a running state.
	// No process id is recorded locally; the session stays empty.
	ErrLaunchFailed = errors.New("launch failed")

	// ErrProcessNeverDied indicates a graceful stop exhausted the full
	// signal escalation without confirming death. Local session state has
	// already been cleared; the remote process is an orphan outside this
	// system's control. Advisory, not fatal.
	ErrProcessNeverDied = errors.New("process survived kill signal")
)

// Signals sent over the channel as `kill -s <n> <pid>`.
const (
	sigProbe     = 0 // existence check, nothing is delivered
	sigInterrupt = 2
	sigKill      = 9
	sigTerminate = 15
)

// Server is the reachable address of a started session.
type Server struct {
	Address string
	Port    int
}

// Options configures an Orchestrator. Config and User are required.
type Options struct {
	Config *config.Config

	// User owns the session.
	User string

	// Command is the launch command, tokenized. Any token starting with
	// "--port" is rewritten to the allocated port before launch.
	Command []string

	// Channel defaults to an SSH-backed dialer.
	Channel sshexec.Channel

	// Strategy defaults to uniform-random selection over the pool.
	Strategy hostpool.Strategy

	// Registry defaults to a file-backed registry under Config.StateDir.
	Registry *registry.Registry

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// RemoteUser maps the session user to the remote account name.
	// Defaults to the identity mapping.
	RemoteUser func(string) string
}

// Orchestrator drives the remote session lifecycle for one user.
type Orchestrator struct {
	cfg        *config.Config
	user       string
	command    []string
	channel    sshexec.Channel
	strategy   hostpool.Strategy
	registry   *registry.Registry
	provider   creds.Provider
	remoteUser func(string) string
	log        *slog.Logger

	sess registry.State
	host string // pool member the session was placed on
	port int
}

// New validates the configuration eagerly and returns an empty orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(opts.User) == "" {
		return nil, fmt.Errorf("user is required")
	}
	o := &Orchestrator{
		cfg:        opts.Config,
		user:       opts.User,
		command:    slices.Clone(opts.Command),
		channel:    opts.Channel,
		strategy:   opts.Strategy,
		registry:   opts.Registry,
		remoteUser: opts.RemoteUser,
		log:        opts.Logger,
	}
	o.provider = creds.Provider{KeyPath: opts.Config.SSHKeyPath, CertPath: opts.Config.SSHCertPath}
	if o.channel == nil {
		o.channel = &sshexec.Dialer{Logger: opts.Logger}
	}
	if o.strategy == nil {
		o.strategy = hostpool.Random{}
	}
	if o.registry == nil {
		stateDir, err := config.ExpandPath(opts.Config.StateDir)
		if err != nil {
			return nil, err
		}
		o.registry = registry.New(stateDir)
	}
	if o.remoteUser == nil {
		o.remoteUser = func(name string) string { return name }
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o, nil
}

// Start selects a host, allocates a remote port, launches the user command
// detached and records its process id. On any failure the session stays
// empty: no partial process id is ever retained, even though a remote
// process may in fact have been spawned after the launch script began
// executing (local state consistency is the contract, not remote orphan
// detection).
func (o *Orchestrator) Start(ctx context.Context) (Server, error) {
	if !o.sess.Empty() {
		return Server{}, fmt.Errorf("session already started (pid %d on %s)", o.sess.PID, o.sess.RemoteIP)
	}
	if len(o.command) == 0 {
		return Server{}, fmt.Errorf("launch command is required")
	}

	host, err := o.strategy.Select(ctx, hostpool.Target{User: o.user, Pool: hostpool.Pool(o.cfg.HostPool)})
	if err != nil {
		return Server{}, fmt.Errorf("select host: %w", err)
	}

	c, err := o.provider.Resolve(o.remoteUser(o.user))
	if err != nil {
		return Server{}, err
	}

	addr, port, err := o.remotePort(ctx, host, c)
	if err != nil {
		return Server{}, err
	}
	o.log.Debug("allocated remote port", "user", o.user, "host", host, "addr", addr, "port", port)

	sessionID := uuid.NewString()
	script := launch.Script(o.launchEnv(), o.launchCommand(port), o.cfg.LogFileName)
	cleanup, err := o.keepLocalCopy(sessionID, script)
	if err != nil {
		return Server{}, err
	}
	defer cleanup()

	// The script runs against the address the port finder handed back, not
	// necessarily the pool member we dialed first: behind a balancer the
	// two can differ.
	res, err := o.channel.RunScript(ctx, o.endpoint(addr), c, script)
	if err != nil {
		return Server{}, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	pid, err := parsePID(res.Stdout)
	if err != nil {
		return Server{}, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	o.sess = registry.State{SessionID: sessionID, PID: pid, RemoteIP: addr}
	o.host = host
	o.port = port
	if err := o.registry.Save(o.user, o.sess); err != nil {
		o.log.Warn("persist session state", "user", o.user, "err", err)
	}
	o.log.Info("session started", "user", o.user, "host", host, "addr", addr, "port", port, "pid", pid)
	return Server{Address: addr, Port: port}, nil
}

// Poll checks whether the session process still exists. It returns nil while
// the process is alive. Once the process is confirmed gone the session is
// cleared and a generic exit code 0 is returned: the true remote exit code
// cannot be recovered from a signal probe. A transport failure is returned
// as an error and does NOT clear state; a network blip must never orphan a
// still-running remote process.
func (o *Orchestrator) Poll(ctx context.Context) (*int, error) {
	if o.sess.Empty() {
		// No pid recorded: already stopped. No remote call is made.
		o.clear()
		code := 0
		return &code, nil
	}

	alive, err := o.signalAlive(ctx, sigProbe)
	if err != nil {
		return nil, err
	}
	o.log.Debug("poll", "user", o.user, "pid", o.sess.PID, "alive", alive)
	if alive {
		return nil, nil
	}
	o.clear()
	code := 0
	return &code, nil
}

// Stop terminates the session process. Graceful stop escalates through
// interrupt, terminate and kill, probing for death after each signal for a
// bounded wait; if the process survives all three stages the session is
// abandoned and ErrProcessNeverDied returned. Non-graceful stop sends one
// terminate signal. In every completed path local session state is cleared:
// the orchestrator's responsibility ends at best-effort stop.
func (o *Orchestrator) Stop(ctx context.Context, graceful bool) error {
	if o.sess.Empty() {
		o.clear()
		return nil
	}
	pid := o.sess.PID

	if !graceful {
		_, err := o.signalAlive(ctx, sigTerminate)
		o.clear()
		o.log.Info("session stopped", "user", o.user, "pid", pid, "graceful", false)
		return err
	}

	for _, sig := range []int{sigInterrupt, sigTerminate, sigKill} {
		alive, err := o.signalAlive(ctx, sig)
		if err != nil {
			return err
		}
		if !alive {
			// Signal delivery already failed: the process is gone.
			o.clear()
			o.log.Info("session stopped", "user", o.user, "pid", pid, "signal", sig)
			return nil
		}
		dead, err := o.waitForDeath(ctx)
		if err != nil {
			return err
		}
		if dead {
			o.clear()
			o.log.Info("session stopped", "user", o.user, "pid", pid, "signal", sig)
			return nil
		}
		o.log.Debug("process survived signal", "user", o.user, "pid", pid, "signal", sig)
	}

	o.log.Warn("process survived kill, abandoning session", "user", o.user, "pid", pid, "addr", o.sess.RemoteIP)
	o.clear()
	return ErrProcessNeverDied
}

// GetState exports the persistable session record. An empty session exports
// an empty record.
func (o *Orchestrator) GetState() registry.State {
	if o.sess.Empty() {
		return registry.State{}
	}
	return o.sess
}

// LoadState restores a previously exported record. A record without a pid is
// ignored.
func (o *Orchestrator) LoadState(st registry.State) {
	if st.Empty() {
		return
	}
	o.sess = st
}

// ClearState resets the session to empty and removes the persisted record.
// Clearing an already-empty session is a no-op.
func (o *Orchestrator) ClearState() {
	o.clear()
}

// Restore loads persisted state written by a previous orchestrator process.
// It reports whether a session was found.
func (o *Orchestrator) Restore() (bool, error) {
	st, ok, err := o.registry.Load(o.user)
	if err != nil {
		return false, err
	}
	if !ok || st.Empty() {
		return false, nil
	}
	o.sess = st
	o.log.Debug("restored session", "user", o.user, "pid", st.PID, "addr", st.RemoteIP)
	return true, nil
}

// remotePort runs the port finder on host and parses its stdout: either a
// bare port, or an "<address> <port>" pair when the reachable address
// differs from the dialed host.
func (o *Orchestrator) remotePort(ctx context.Context, host string, c creds.Credentials) (string, int, error) {
	res, err := o.channel.Run(ctx, o.endpoint(host), c, wrapRemote(o.cfg.RemotePortCommand))
	if err != nil {
		return "", 0, fmt.Errorf("port finder on %s: %w", host, err)
	}
	fields := strings.Fields(string(res.Stdout))
	switch len(fields) {
	case 1:
		port, err := parsePort(fields[0])
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	case 2:
		port, err := parsePort(fields[1])
		if err != nil {
			return "", 0, err
		}
		return fields[0], port, nil
	default:
		return "", 0, fmt.Errorf("%w: port finder printed %q", ErrMalformedOutput, strings.TrimSpace(string(res.Stdout)))
	}
}

// signalAlive sends sig to the session pid. It reports true when the remote
// kill exited zero, false when the process no longer exists, and an error
// when the channel itself failed and nothing about the process is known.
func (o *Orchestrator) signalAlive(ctx context.Context, sig int) (bool, error) {
	c, err := o.provider.Resolve(o.remoteUser(o.user))
	if err != nil {
		return false, err
	}
	command := wrapRemote(fmt.Sprintf("kill -s %d %d", sig, o.sess.PID))
	_, err = o.channel.Run(ctx, o.endpoint(o.sess.RemoteIP), c, command)
	if err == nil {
		return true, nil
	}
	var cmdErr *sshexec.CommandError
	if errors.As(err, &cmdErr) {
		return false, nil
	}
	return false, err
}

// waitForDeath probes the process StopAttempts times, StopInterval apart.
func (o *Orchestrator) waitForDeath(ctx context.Context) (bool, error) {
	for i := 0; i < o.cfg.StopAttempts; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(o.cfg.StopInterval):
		}
		alive, err := o.signalAlive(ctx, sigProbe)
		if err != nil {
			return false, err
		}
		if !alive {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) clear() {
	o.sess = registry.State{}
	o.host = ""
	o.port = 0
	if err := o.registry.Clear(o.user); err != nil {
		o.log.Warn("clear persisted state", "user", o.user, "err", err)
	}
}

func (o *Orchestrator) endpoint(host string) sshexec.Endpoint {
	return sshexec.Endpoint{Host: host, Port: o.cfg.SSHPort}
}

// launchCommand rewrites any --port token to the allocated port and joins
// the command line.
func (o *Orchestrator) launchCommand(port int) string {
	tokens := slices.Clone(o.command)
	for i, t := range tokens {
		if strings.HasPrefix(t, "--port") {
			tokens[i] = fmt.Sprintf("--port=%d", port)
		}
	}
	return strings.Join(tokens, " ")
}

// launchEnv is the environment exported by the launch script: the configured
// map plus a PATH default. The ambient process environment is never consulted
// or mutated.
func (o *Orchestrator) launchEnv() map[string]string {
	env := maps.Clone(o.cfg.Environment)
	if env == nil {
		env = make(map[string]string)
	}
	if _, ok := env["PATH"]; !ok && o.cfg.Path != "" {
		env["PATH"] = o.cfg.Path
	}
	return env
}

// keepLocalCopy writes the rendered script under ScriptDir for debugging and
// returns the cleanup that removes it once the launch call is done. With no
// ScriptDir configured nothing touches local disk.
func (o *Orchestrator) keepLocalCopy(sessionID string, script []byte) (func(), error) {
	if strings.TrimSpace(o.cfg.ScriptDir) == "" {
		return func() {}, nil
	}
	dir, err := config.ExpandPath(o.cfg.ScriptDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_run.sh", o.user, sessionID))
	if err := os.WriteFile(path, script, 0o600); err != nil {
		return nil, err
	}
	o.log.Debug("wrote launch script copy", "user", o.user, "path", path)
	return func() {
		if err := os.Remove(path); err != nil {
			o.log.Warn("remove launch script copy", "path", path, "err", err)
		}
	}, nil
}

// wrapRemote reproduces the channel's command shape: the payload runs under
// an explicit bash -c with stdin from /dev/null so a detached-friendly,
// shell-interpreted command line reaches the remote side unmangled.
func wrapRemote(cmd string) string {
	return fmt.Sprintf("bash -c %q < /dev/null", cmd)
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: port finder printed %q", ErrMalformedOutput, s)
	}
	return port, nil
}

// parsePID enforces the launch script stdout contract: exactly one numeric
// line, the pid. Empty, non-numeric or multi-line output is a failure, as is
// a non-positive pid.
func parsePID(stdout []byte) (int, error) {
	out := strings.TrimSpace(string(stdout))
	if out == "" {
		return 0, fmt.Errorf("%w: launch script printed nothing", ErrMalformedOutput)
	}
	if strings.ContainsAny(out, "\n\r") {
		return 0, fmt.Errorf("%w: launch script printed multiple lines", ErrMalformedOutput)
	}
	pid, err := strconv.Atoi(out)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: launch script printed %q", ErrMalformedOutput, out)
	}
	return pid, nil
}
