package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/jsmucr/drip/internal/worker"
)

// Builtin entry points. Real workloads register theirs the same way from
// their own packages; these exist so a fresh install can exercise the pool.
func init() {
	worker.Register("drip.Echo", echoEntry)
	worker.Register("drip.Upcase", upcaseEntry)
	worker.Register("drip.Property", propertyEntry)
}

func echoEntry(args []string) {
	fmt.Fprintln(worker.Stdout(), strings.Join(args, " "))
}

// upcaseEntry copies its input stream upper-cased, line by line.
func upcaseEntry(args []string) error {
	sc := bufio.NewScanner(worker.Stdin())
	for sc.Scan() {
		fmt.Fprintln(worker.Stdout(), strings.ToUpper(sc.Text()))
	}
	return sc.Err()
}

// propertyEntry prints the value of each named runtime property.
func propertyEntry(args []string) error {
	for _, name := range args {
		v, ok := worker.Property(name)
		if !ok {
			return fmt.Errorf("property %q is not set", name)
		}
		fmt.Fprintln(worker.Stdout(), v)
	}
	return nil
}
