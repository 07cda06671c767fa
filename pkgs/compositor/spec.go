package compositor

import (
	"crypto/tls"
	"fmt"

	"github.com/gatelet/gatelet/pkgs/auth"
	"github.com/gatelet/gatelet/pkgs/backend"
)

// Kind tells how a mounted backend is reached.
type Kind string

// The supported mount kinds.
const (
	KindInProcess Kind = "inproc"
	KindCommand   Kind = "command"
	KindHTTP      Kind = "http"
)

// A MountSpec describes how to reach one backend. Exactly one of the
// kind-specific field groups is used, selected by Kind.
type MountSpec struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// In-process handle. Never serialized.
	Handle backend.Backend `json:"-" yaml:"-"`

	// External process.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`

	// Remote HTTP.
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
	Token string `json:"-" yaml:"token,omitempty"`
}

// InProcess returns a MountSpec for an in-process backend handle.
func InProcess(h backend.Backend) MountSpec {
	return MountSpec{Kind: KindInProcess, Handle: h}
}

// Command returns a MountSpec for an external-process backend.
func Command(command string, args ...string) MountSpec {
	return MountSpec{Kind: KindCommand, Command: command, Args: args}
}

// Remote returns a MountSpec for a remote HTTP backend.
func Remote(url string, token string) MountSpec {
	return MountSpec{Kind: KindHTTP, URL: url, Token: token}
}

// connect turns the mount description into a live Backend.
func (s MountSpec) connect(handlers backend.Handlers, tlsConfig *tls.Config) (backend.Backend, error) {

	switch s.Kind {

	case KindInProcess:
		if s.Handle == nil {
			return nil, fmt.Errorf("in-process mount requires a handle")
		}
		return s.Handle, nil

	case KindCommand:
		if s.Command == "" {
			return nil, fmt.Errorf("command mount requires a command")
		}
		return backend.NewStdio(s.Command, s.Args, s.Env, handlers)

	case KindHTTP:
		if s.URL == "" {
			return nil, fmt.Errorf("http mount requires a url")
		}
		var a *auth.Auth
		if s.Token != "" {
			a = auth.NewBearer(s.Token)
		}
		return backend.NewHTTP(s.URL, a, tlsConfig), nil

	default:
		return nil, fmt.Errorf("unknown mount kind '%s'", s.Kind)
	}
}
