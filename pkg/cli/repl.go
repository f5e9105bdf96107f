// Package cli provides the interactive REPL used by the repl
// subcommand, running against an in-process engine.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/CesarPetrescu/CrabSQL/internal/logger"
	"github.com/CesarPetrescu/CrabSQL/pkg/sql"
)

// REPL reads statements terminated by ';' and prints results.
type REPL struct {
	sess *sql.Session
	log  *logger.Logger
}

// NewREPL creates a REPL over a fresh session.
func NewREPL(eng *sql.Engine, log *logger.Logger) *REPL {
	return &REPL{sess: sql.NewSession(eng, log), log: log.Named("repl")}
}

// Run drives the prompt loop until EOF or quit.
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "crabsql> ",
		HistoryFile:     "/tmp/.crabsql_history",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	defer r.sess.Close()

	var pending strings.Builder
	for {
		if pending.Len() > 0 {
			rl.SetPrompt("      -> ")
		} else {
			rl.SetPrompt("crabsql> ")
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			pending.Reset()
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		trimmed := strings.TrimSpace(line)
		if pending.Len() == 0 && (strings.EqualFold(trimmed, "quit") || strings.EqualFold(trimmed, "exit")) {
			return nil
		}
		pending.WriteString(line)
		pending.WriteString("\n")
		if !strings.Contains(line, ";") {
			continue
		}
		text := strings.TrimSpace(pending.String())
		pending.Reset()
		if text == ";" {
			continue
		}
		res, err := r.sess.Execute(ctx, text)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			continue
		}
		fmt.Println(strings.TrimRight(res.Format(), "\n"))
	}
}
