package command

import (
	"context"
	"strings"
)

// Call records one invocation seen by Fake.
type Call struct {
	Name string
	Args []string
}

// Fake is a scripted Runner for unit tests. Handler decides the outcome of
// every call; a nil Handler succeeds with empty output.
type Fake struct {
	Calls   []Call
	Handler func(call Call) (stdout, stderr string, err error)
}

func (f *Fake) Run(_ context.Context, name string, args ...string) (string, string, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	f.Calls = append(f.Calls, call)
	if f.Handler == nil {
		return "", "", nil
	}
	return f.Handler(call)
}

func (f *Fake) Stream(ctx context.Context, name string, args ...string) (Stream, error) {
	stdout, _, err := f.Run(ctx, name, args...)
	return NewStream(strings.NewReader(stdout), err), nil
}

// Joined returns the arguments of call i as a single space-separated string.
func (f *Fake) Joined(i int) string {
	c := f.Calls[i]
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}
