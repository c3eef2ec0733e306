package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/feather-lang/luabind"
	"github.com/feather-lang/luabind/internal/logs"
	"golang.org/x/term"
)

func main() {
	level := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	bare := flag.Bool("bare", false, "do not open the standard libraries")
	flag.Parse()

	if err := logs.ParseLevel(*level); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	opts := []luabind.Option{luabind.WithLogger(logs.New(os.Stderr))}
	if *bare {
		opts = append(opts, luabind.WithoutStdlib())
	}
	s := luabind.New(opts...)
	defer s.Close()

	if flag.NArg() > 0 {
		os.Exit(runFile(s, flag.Arg(0), flag.Args()[1:]))
	}

	// Check if stdin is a TTY
	if term.IsTerminal(int(os.Stdin.Fd())) {
		runREPL(s)
		return
	}
	os.Exit(runStdin(s))
}

func runFile(s *luabind.State, path string, args []string) int {
	s.CreateTable(len(args), 1)
	s.PushString(path)
	s.RawSetI(-2, 0)
	for i, a := range args {
		s.PushString(a)
		s.RawSetI(-2, i+1)
	}
	if err := s.SetGlobal("arg"); err != nil {
		return report(err)
	}

	if err := s.LoadFile(path); err != nil {
		return report(err)
	}
	if err := s.Call(0, 0, 0); err != nil {
		return report(err)
	}
	return 0
}

func runStdin(s *luabind.State) int {
	src, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading script: %v\n", err)
		return 1
	}
	if err := s.LoadBuffer(string(src), "stdin"); err != nil {
		return report(err)
	}
	if err := s.Call(0, 0, 0); err != nil {
		return report(err)
	}
	return 0
}

// report prints err and returns the exit status for it.
func report(err error) int {
	fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))

	var se *luabind.SyntaxError
	var fe *luabind.FileError
	switch {
	case errors.As(err, &se):
		return 3
	case errors.As(err, &fe):
		return 4
	}
	return 1
}
