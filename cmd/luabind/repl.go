package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/feather-lang/luabind"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// session accumulates input lines until they form a complete chunk.
type session struct {
	s      *luabind.State
	buffer string
}

// feed adds a line. It returns the printable results of the chunk once the
// input is complete, and more == true while input is still missing.
func (sess *session) feed(line string) (results []string, more bool, err error) {
	if sess.buffer != "" {
		sess.buffer += "\n" + line
	} else {
		sess.buffer = line
	}
	src := sess.buffer

	s := sess.s
	top := s.GetTop()
	defer s.SetTop(top)

	// expressions print their value
	if err := s.LoadBuffer("return "+src, "stdin"); err != nil {
		release(err)
		if err := s.LoadBuffer(src, "stdin"); err != nil {
			if incomplete(err) {
				release(err)
				return nil, true, nil
			}
			sess.buffer = ""
			return nil, false, err
		}
	}
	sess.buffer = ""

	if err := s.Call(0, luabind.MultRet, 0); err != nil {
		return nil, false, err
	}
	for i := top + 1; i <= s.GetTop(); i++ {
		results = append(results, describe(s, i))
	}
	return results, false, nil
}

// incomplete reports whether err is a syntax error caused by input that
// stopped early.
func incomplete(err error) bool {
	var se *luabind.SyntaxError
	return errors.As(err, &se) && strings.Contains(se.Error(), "EOF")
}

func describe(s *luabind.State, idx int) string {
	switch s.Type(idx) {
	case luabind.TNil:
		return "nil"
	case luabind.TBoolean:
		if s.ToBoolean(idx) {
			return "true"
		}
		return "false"
	case luabind.TString:
		str, _ := s.ToString(idx)
		return luabind.Quote(str)
	case luabind.TNumber:
		str, _ := s.ToString(idx)
		return str
	}
	return s.TypeName(s.Type(idx))
}

func release(err error) {
	var le *luabind.Error
	if errors.As(err, &le) {
		le.Release()
	}
}

func (sess *session) prompt() string {
	if sess.buffer != "" {
		return promptStyle.Render(">>") + " "
	}
	return promptStyle.Render(">") + " "
}

func (sess *session) handle(line string) {
	results, _, err := sess.feed(line)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		return
	}
	for _, r := range results {
		fmt.Println(resultStyle.Render(r))
	}
}

func runREPL(s *luabind.State) {
	sess := &session{s: s}

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            sess.prompt(),
		HistoryFile:       filepath.Join(homeDir, ".luabind_history"),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("Failed to create readline instance, falling back to basic input: %v\n", err)
		runBasicREPL(sess)
		return
	}
	defer func() {
		_ = rl.Close()
	}()

	for {
		rl.SetPrompt(sess.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				sess.buffer = ""
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			continue
		}
		sess.handle(line)
	}
}

func runBasicREPL(sess *session) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(sess.prompt())
		if !scanner.Scan() {
			break
		}
		sess.handle(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
	}
}
