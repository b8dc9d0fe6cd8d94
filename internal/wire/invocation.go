package wire

import (
	"bufio"
	"io"
	"sort"
	"strings"
)

// Invocation is the one-shot message a claiming client hands to a worker.
// Exactly four records are exchanged per invocation, in fixed order:
// entry-point name, positional arguments, runtime properties, environment
// assignments.
type Invocation struct {
	// EntryPoint names the hosted entry point. Empty means unset.
	EntryPoint string
	// Args are the positional arguments, in order.
	Args []string
	// Properties are "key=value" runtime property assignments. A leading
	// "-D" on a key is tolerated and stripped by the consumer.
	Properties []string
	// Env maps environment variable names to values.
	Env map[string]string
}

// WriteInvocation encodes inv as four records on w.
func WriteInvocation(w io.Writer, inv *Invocation) error {
	var entry []string
	if inv.EntryPoint != "" {
		entry = []string{inv.EntryPoint}
	}
	if err := Encode(w, entry); err != nil {
		return err
	}
	if err := Encode(w, inv.Args); err != nil {
		return err
	}
	if err := Encode(w, inv.Properties); err != nil {
		return err
	}

	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assigns := make([]string, 0, len(keys))
	for _, k := range keys {
		assigns = append(assigns, k+"="+inv.Env[k])
	}
	return Encode(w, assigns)
}

// ReadInvocation decodes the four fixed-order records from r.
func ReadInvocation(r io.Reader) (*Invocation, error) {
	br := bufio.NewReader(r)

	entry, err := Decode(br)
	if err != nil {
		return nil, err
	}
	if len(entry) > 1 {
		return nil, framingf("entry-point record has %d fields, want at most 1", len(entry))
	}

	args, err := Decode(br)
	if err != nil {
		return nil, err
	}
	props, err := Decode(br)
	if err != nil {
		return nil, err
	}
	assigns, err := Decode(br)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{Args: args, Properties: props, Env: make(map[string]string, len(assigns))}
	if len(entry) == 1 {
		inv.EntryPoint = entry[0]
	}
	for _, a := range assigns {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, framingf("environment assignment %q is not KEY=value", a)
		}
		inv.Env[k] = v
	}
	return inv, nil
}
